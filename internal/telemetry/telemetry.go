// Package telemetry implements the read-only HTTP surface and SSE push
// channel over harness state: status, backlog, sessions, progress,
// projections, timeline, and alerts.
//
// The REST handlers use plain net/http ServeMux method+path routing
// (no third-party router carries enough weight to justify adding one
// for a dozen read-only GETs); the SSE push channel is a per-client
// buffered channel hub with drop-on-full broadcast and flusher-based
// streaming, generalized to the harness's Event Bus names and wired to
// golang.org/x/time/rate for the 30s application-level ping.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Fr3nn3r/ada-harness/internal/alerts"
	"github.com/Fr3nn3r/ada-harness/internal/backlog"
	"github.com/Fr3nn3r/ada-harness/internal/eventbus"
	"github.com/Fr3nn3r/ada-harness/internal/progresslog"
	"github.com/Fr3nn3r/ada-harness/internal/sessionlog"
	"github.com/Fr3nn3r/ada-harness/internal/types"
)

// StatusProvider supplies the live, in-memory fields of /api/status that
// nothing on disk carries (what the Scheduler is doing right now).
type StatusProvider interface {
	Running() bool
	CurrentFeatureID() string
	CurrentSessionID() string
	ContextUsagePercent() float64
}

// Server wires the harness's stores into an HTTP surface and an SSE hub.
type Server struct {
	backlog *backlog.Store
	prog    *progresslog.Log
	sess    *sessionlog.Logger
	alerts  *alerts.Store
	bus     *eventbus.Bus
	status  StatusProvider

	hub *hub
}

// New returns a Server; Handler() yields the http.Handler to mount.
func New(bs *backlog.Store, prog *progresslog.Log, sess *sessionlog.Logger, al *alerts.Store, bus *eventbus.Bus, status StatusProvider) *Server {
	s := &Server{backlog: bs, prog: prog, sess: sess, alerts: al, bus: bus, status: status, hub: newHub()}
	unsub := bus.Subscribe()
	go s.hub.forward(unsub)
	return s
}

// Handler returns the mux serving every read-only status/backlog/session
// endpoint plus the /ws/events SSE push channel.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/backlog", s.handleBacklog)
	mux.HandleFunc("GET /api/backlog/{id}", s.handleBacklogItem)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionItem)
	mux.HandleFunc("GET /api/sessions/costs", s.handleSessionCosts)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.HandleFunc("GET /api/progress/full", s.handleProgressFull)
	mux.HandleFunc("GET /api/projections", s.handleProjections)
	mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/alerts/unread/count", s.handleAlertsUnreadCount)
	mux.HandleFunc("POST /api/alerts/{id}/read", s.handleAlertRead)
	mux.HandleFunc("POST /api/alerts/read-all", s.handleAlertsReadAll)
	mux.HandleFunc("POST /api/alerts/{id}/dismiss", s.handleAlertDismiss)
	mux.HandleFunc("GET /ws/events", s.hub.ServeSSE)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.backlog.Snapshot()
	counts := map[types.FeatureStatus]int{}
	for _, f := range snap.Features {
		counts[f.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":               s.status.Running(),
		"current_feature_id":    s.status.CurrentFeatureID(),
		"current_session_id":    s.status.CurrentSessionID(),
		"context_usage_percent": s.status.ContextUsagePercent(),
		"counts":                counts,
		"total_features":        len(snap.Features),
	})
}

func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	snap := s.backlog.Snapshot()
	counts := map[types.FeatureStatus]int{}
	for _, f := range snap.Features {
		counts[f.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlog": snap, "counts": counts})
}

func (s *Server) handleBacklogItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f := s.backlog.Snapshot().FindFeature(id)
	if f == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("feature %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	featureID := q.Get("feature_id")
	outcome := types.Outcome(q.Get("outcome"))

	entries, total := s.sess.List(page, pageSize, featureID, outcome)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": entries,
		"total":    total,
		"page":     page,
		"page_size": pageSize,
	})
}

func (s *Server) handleSessionItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := s.sess.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", id))
		return
	}
	entries, err := s.sess.Load(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": entry, "entries": entries})
}

// costSummary is the derived, non-persisted aggregate computed on
// demand, grounded on original_source/api/routes/sessions.py's
// CostSummaryResponse.
type costSummary struct {
	TotalCostUSD     float64                  `json:"total_cost_usd"`
	TotalSessions    int                      `json:"total_sessions"`
	TokensByKind     map[string]int           `json:"tokens_by_kind"`
	CostByModel      map[string]float64       `json:"cost_by_model"`
	SessionsByOutcome map[types.Outcome]int   `json:"sessions_by_outcome"`
	SinceDays        int                      `json:"since_days,omitempty"`
}

func (s *Server) handleSessionCosts(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	var cutoff time.Time
	if days > 0 {
		cutoff = time.Now().AddDate(0, 0, -days)
	}

	cs := costSummary{
		TokensByKind:      map[string]int{"input": 0, "output": 0, "cache_read": 0, "cache_write": 0},
		CostByModel:       map[string]float64{},
		SessionsByOutcome: map[types.Outcome]int{},
	}
	for _, e := range s.sess.AllIndexEntries() {
		if !cutoff.IsZero() && e.StartedAt.Before(cutoff) {
			continue
		}
		cs.TotalCostUSD += e.CostUSD
		cs.TotalSessions++
		cs.TokensByKind["input"] += e.Usage.InputTokens
		cs.TokensByKind["output"] += e.Usage.OutputTokens
		cs.TokensByKind["cache_read"] += e.Usage.CacheReadTokens
		cs.TokensByKind["cache_write"] += e.Usage.CacheWriteTokens
		cs.SessionsByOutcome[e.Outcome]++
	}
	cs.SinceDays = days
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lines, _ := strconv.Atoi(q.Get("lines"))
	if lines <= 0 {
		lines = 100
	}
	text, err := s.prog.TailLines(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleProgressFull(w http.ResponseWriter, r *http.Request) {
	text, err := s.prog.Full()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// projections is a derived forecast: average cost per feature, a
// low/mid/high projected-remaining-cost band, a daily burn rate, and a
// coarse confidence tag.
type projections struct {
	AvgCostPerFeature    float64 `json:"avg_cost_per_feature"`
	RemainingFeatures    int     `json:"remaining_features"`
	ProjectedRemainingLow  float64 `json:"projected_remaining_low"`
	ProjectedRemainingMid  float64 `json:"projected_remaining_mid"`
	ProjectedRemainingHigh float64 `json:"projected_remaining_high"`
	DailyBurnRateUSD     float64 `json:"daily_burn_rate_usd"`
	Confidence           string  `json:"confidence"`
}

func (s *Server) handleProjections(w http.ResponseWriter, r *http.Request) {
	snap := s.backlog.Snapshot()
	entries := s.sess.AllIndexEntries()

	var totalCost float64
	var completedSessions int
	var earliest, latest time.Time
	for _, e := range entries {
		if e.Outcome == "" {
			continue
		}
		totalCost += e.CostUSD
		completedSessions++
		if earliest.IsZero() || e.StartedAt.Before(earliest) {
			earliest = e.StartedAt
		}
		if e.EndedAt.After(latest) {
			latest = e.EndedAt
		}
	}

	completedFeatures := 0
	remaining := 0
	for _, f := range snap.Features {
		if f.Status == types.StatusCompleted {
			completedFeatures++
		} else if f.Status != types.StatusBlocked {
			remaining++
		}
	}

	p := projections{RemainingFeatures: remaining}
	confidence := "low"
	if completedFeatures > 0 {
		p.AvgCostPerFeature = totalCost / float64(completedFeatures)
		p.ProjectedRemainingMid = p.AvgCostPerFeature * float64(remaining)
		p.ProjectedRemainingLow = p.ProjectedRemainingMid * 0.7
		p.ProjectedRemainingHigh = p.ProjectedRemainingMid * 1.5
		if completedFeatures >= 5 {
			confidence = "high"
		} else if completedFeatures >= 2 {
			confidence = "medium"
		}
	}
	if !earliest.IsZero() && !latest.IsZero() && latest.After(earliest) {
		days := latest.Sub(earliest).Hours() / 24
		if days >= 1 {
			p.DailyBurnRateUSD = totalCost / days
		} else {
			p.DailyBurnRateUSD = totalCost
		}
	}
	p.Confidence = confidence
	writeJSON(w, http.StatusOK, p)
}

// timelineSegment is one session's span within a feature's timeline row.
type timelineSegment struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
	Outcome   types.Outcome `json:"outcome,omitempty"`
}

type timelineRow struct {
	FeatureID string            `json:"feature_id"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Sessions  []timelineSegment `json:"sessions"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	snap := s.backlog.Snapshot()
	entries := s.sess.AllIndexEntries()

	byFeature := map[string][]timelineSegment{}
	for _, e := range entries {
		if e.FeatureID == "" {
			continue
		}
		byFeature[e.FeatureID] = append(byFeature[e.FeatureID], timelineSegment{
			SessionID: e.ID, StartedAt: e.StartedAt, EndedAt: e.EndedAt, Outcome: e.Outcome,
		})
	}

	rows := make([]timelineRow, 0, len(snap.Features))
	for _, f := range snap.Features {
		rows = append(rows, timelineRow{
			FeatureID: f.ID,
			StartedAt: f.StartedAt,
			EndedAt:   f.CompletedAt,
			Sessions:  byFeature[f.ID],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": rows})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	includeDismissed := r.URL.Query().Get("include_dismissed") == "true"
	all := s.alerts.List(false)
	if !includeDismissed {
		filtered := all[:0:0]
		for _, a := range all {
			if !a.Dismissed {
				filtered = append(filtered, a)
			}
		}
		all = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":        all,
		"unread_count": s.alerts.UnreadCount(),
	})
}

func (s *Server) handleAlertsUnreadCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.alerts.UnreadCount())
}

func (s *Server) handleAlertRead(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.MarkRead(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAlertsReadAll(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.MarkAllRead(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAlertDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.Dismiss(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// wireEvent is the JSON envelope pushed over /ws/events.
type wireEvent struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// pingInterval is the application-level SSE keepalive cadence.
const pingInterval = 30 * time.Second

// sseClient is one connected push subscriber.
type sseClient struct {
	ch chan []byte
}

// hub is the SSE broadcaster, generalized from GoCodeAlone-ratchet's
// server/ws.Hub from one fixed event catalogue to the Event Bus's
// typed names, with a rate.Limiter driving the liveness ping instead
// of a bare ticker so a burst of real events doesn't also trigger a
// redundant ping in the same instant.
type hub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	limiter *rate.Limiter
}

func newHub() *hub {
	return &hub{
		clients: make(map[*sseClient]struct{}),
		limiter: rate.NewLimiter(rate.Every(pingInterval), 1),
	}
}

func (h *hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.ch <- data:
		default:
		}
	}
}

// forward relays every Event Bus publication onto the SSE hub until the
// subscription is closed.
func (h *hub) forward(sub *eventbus.Subscription) {
	for ev := range sub.Events() {
		data, err := json.Marshal(wireEvent{Event: string(ev.Name), Data: ev.Data, Timestamp: ev.Timestamp})
		if err != nil {
			continue
		}
		h.broadcast(data)
	}
}

// ServeSSE handles one /ws/events connection.
func (h *hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	c := &sseClient{ch: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.ch)
	}()

	ctx := r.Context()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	fmt.Fprint(w, "data: {\"event\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.ch:
			if !ok {
				return
			}
			for _, line := range strings.Split(string(data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line)
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		case <-ping.C:
			if h.limiter.Allow() {
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

// Serve runs an HTTP server for the Telemetry API until ctx is done.
func Serve(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

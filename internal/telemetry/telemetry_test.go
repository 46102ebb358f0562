package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fr3nn3r/ada-harness/internal/alerts"
	"github.com/Fr3nn3r/ada-harness/internal/backlog"
	"github.com/Fr3nn3r/ada-harness/internal/eventbus"
	"github.com/Fr3nn3r/ada-harness/internal/progresslog"
	"github.com/Fr3nn3r/ada-harness/internal/sessionlog"
	"github.com/Fr3nn3r/ada-harness/internal/types"
)

type fakeStatus struct{}

func (fakeStatus) Running() bool               { return true }
func (fakeStatus) CurrentFeatureID() string    { return "f1" }
func (fakeStatus) CurrentSessionID() string    { return "s1" }
func (fakeStatus) ContextUsagePercent() float64 { return 42.5 }

func newTestServer(t *testing.T) (*Server, *backlog.Store, *sessionlog.Logger, *alerts.Store, *eventbus.Bus) {
	t.Helper()
	dir := t.TempDir()

	bs := backlog.New(filepath.Join(dir, "feature-list.json"))
	_, err := bs.Init("proj", dir)
	require.NoError(t, err)

	sess, err := sessionlog.New(filepath.Join(dir, "sessions"), filepath.Join(dir, "archive"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	prog := progresslog.New(filepath.Join(dir, "PROGRESS_LOG.md"), "", 0)

	al, err := alerts.New(filepath.Join(dir, "alerts.json"))
	require.NoError(t, err)

	bus := eventbus.New(16)

	s := New(bs, prog, sess, al, bus, fakeStatus{})
	return s, bs, sess, al, bus
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHandleStatus(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "f1", body["current_feature_id"])
	assert.Equal(t, 42.5, body["context_usage_percent"])
}

func TestHandleBacklogAndItem(t *testing.T) {
	s, bs, _, _, _ := newTestServer(t)
	id := "f1"
	require.NoError(t, bs.AddFeature(&types.Feature{ID: id, Name: "first feature", Category: types.CategoryFunctional}))

	req := httptest.NewRequest("GET", "/api/backlog", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/backlog/"+id, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/backlog/does-not-exist", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSessionsAndItemAndCosts(t *testing.T) {
	s, _, sess, _, _ := newTestServer(t)
	sesh, err := sess.StartSession(types.AgentKindCoding, "f1")
	require.NoError(t, err)
	require.NoError(t, sesh.Finish(types.SessionRecord{
		Outcome: types.OutcomeSuccess,
		Turns:   3,
		Usage:   types.TokenUsage{InputTokens: 10, OutputTokens: 5},
		CostUSD: 0.25,
	}))

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var listBody map[string]any
	decodeJSON(t, rec, &listBody)
	assert.Equal(t, float64(1), listBody["total"])

	req = httptest.NewRequest("GET", "/api/sessions/"+sesh.ID(), nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/sessions/nope", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest("GET", "/api/sessions/costs", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var costs costSummary
	decodeJSON(t, rec, &costs)
	assert.Equal(t, 0.25, costs.TotalCostUSD)
	assert.Equal(t, 1, costs.TotalSessions)
	assert.Equal(t, 10, costs.TokensByKind["input"])
}

func TestHandleProgressAndFull(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/progress", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/progress/full", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleProjectionsWithNoHistoryIsLowConfidence(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/projections", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var p projections
	decodeJSON(t, rec, &p)
	assert.Equal(t, "low", p.Confidence)
	assert.Zero(t, p.AvgCostPerFeature)
}

func TestHandleTimeline(t *testing.T) {
	s, _, sess, _, _ := newTestServer(t)
	sesh, err := sess.StartSession(types.AgentKindCoding, "f1")
	require.NoError(t, err)
	require.NoError(t, sesh.Finish(types.SessionRecord{Outcome: types.OutcomeSuccess}))

	req := httptest.NewRequest("GET", "/api/timeline", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.NotNil(t, body["timeline"])
}

func TestHandleAlertsLifecycle(t *testing.T) {
	s, _, _, al, _ := newTestServer(t)
	a, _, err := al.Raise(types.AlertWarning, "x", "title", "body", "f1", "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/alerts", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, float64(1), body["unread_count"])

	req = httptest.NewRequest("GET", "/api/alerts/unread/count", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("POST", "/api/alerts/"+a.ID+"/read", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, al.UnreadCount())

	req = httptest.NewRequest("POST", "/api/alerts/"+a.ID+"/dismiss", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("POST", "/api/alerts/unknown/dismiss", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest("POST", "/api/alerts/read-all", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSSEHubBroadcastsBusEvents(t *testing.T) {
	s, _, _, _, bus := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest("GET", srv.URL+"/ws/events", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	// first line is the synthetic "connected" frame.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "connected")

	bus.Publish(eventbus.BacklogUpdated, map[string]string{"feature_id": "f1"})

	deadline := time.Now().Add(2 * time.Second)
	var found bool
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, string(eventbus.BacklogUpdated)) {
			found = true
			break
		}
	}
	assert.True(t, found, "expected the broadcast event to reach the SSE client")
}

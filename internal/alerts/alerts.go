// Package alerts implements the Alert Store: severity-tagged,
// dedupable, acknowledgeable notifications derived from Event Bus
// activity, persisted as a JSON file with a capped ring.
//
// Alerts dedup on a (type, feature, message fingerprint) window, cap at
// a fixed ring size, and persist as JSON; alert-worthy state transitions
// are raised from a monitoring loop rather than inline in the
// scheduler.
package alerts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fr3nn3r/ada-harness/internal/eventbus"
	"github.com/Fr3nn3r/ada-harness/internal/types"
)

// maxAlerts bounds the persisted ring, mirroring original_source's
// MAX_ALERTS cap. Oldest alerts are dropped first once it is exceeded.
const maxAlerts = 100

// defaultDedupWindow suppresses a repeat of the same (type, feature,
// message) alert fired within this window of its predecessor.
const defaultDedupWindow = 60 * time.Second

// Store owns a capped, JSON-persisted ring of Alerts and subscribes to
// the Event Bus to raise new ones.
type Store struct {
	path        string
	dedupWindow time.Duration

	mu     sync.Mutex
	alerts []types.Alert
	last   map[string]time.Time // dedupKey -> last fired
}

// New loads (or initializes) the alert store at path.
func New(path string) (*Store, error) {
	s := &Store{path: path, dedupWindow: defaultDedupWindow, last: make(map[string]time.Time)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("alerts: read: %w", err)
	}
	if err := json.Unmarshal(data, &s.alerts); err != nil {
		return fmt.Errorf("alerts: decode: %w", err)
	}
	for _, a := range s.alerts {
		if t, ok := s.last[a.DedupKey]; !ok || a.Timestamp.After(t) {
			s.last[a.DedupKey] = a.Timestamp
		}
	}
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("alerts: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("alerts: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".alerts-*.tmp")
	if err != nil {
		return fmt.Errorf("alerts: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("alerts: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("alerts: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("alerts: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("alerts: rename: %w", err)
	}
	return nil
}

// dedupKey fingerprints (kind, featureID, message) so that repeated
// identical alerts within the window collapse to one.
func dedupKey(kind, featureID, message string) string {
	h := sha256.Sum256([]byte(kind + "\x00" + featureID + "\x00" + message))
	return hex.EncodeToString(h[:])
}

// Raise records a new alert unless an identical one fired within the
// dedup window, in which case it is silently suppressed. Returns the
// created Alert and whether it was actually appended.
func (s *Store) Raise(severity types.AlertSeverity, kind, title, message, featureID, sessionID string) (types.Alert, bool, error) {
	key := dedupKey(kind, featureID, message)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if last, ok := s.last[key]; ok && now.Sub(last) < s.dedupWindow {
		return types.Alert{}, false, nil
	}

	a := types.Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Title:     title,
		Message:   message,
		Type:      kind,
		Timestamp: now,
		FeatureID: featureID,
		SessionID: sessionID,
		DedupKey:  key,
	}
	s.alerts = append(s.alerts, a)
	s.last[key] = now

	if len(s.alerts) > maxAlerts {
		s.alerts = s.alerts[len(s.alerts)-maxAlerts:]
	}

	if err := s.saveLocked(); err != nil {
		return types.Alert{}, false, err
	}
	return a, true, nil
}

// List returns alerts newest-first, optionally filtered to unread only.
func (s *Store) List(unreadOnly bool) []types.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if unreadOnly && a.Read {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// UnreadCount returns the count of alerts not yet marked read.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if !a.Read {
			n++
		}
	}
	return n
}

// MarkRead marks one alert read by id.
func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Read = true
			return s.saveLocked()
		}
	}
	return fmt.Errorf("alerts: unknown alert %q", id)
}

// MarkAllRead marks every alert read.
func (s *Store) MarkAllRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		s.alerts[i].Read = true
	}
	return s.saveLocked()
}

// Dismiss marks one alert dismissed by id; dismissed alerts are
// excluded from List by callers that care, but remain in the persisted
// ring until the ring's own cap evicts them.
func (s *Store) Dismiss(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Dismissed = true
			return s.saveLocked()
		}
	}
	return fmt.Errorf("alerts: unknown alert %q", id)
}

// severityForEvent maps an Event Bus event name to a default severity
// and human title/message when no richer mapping applies.
func severityForEvent(name eventbus.Name) (types.AlertSeverity, string) {
	switch name {
	case eventbus.SessionEnded:
		return types.AlertInfo, "Session ended"
	case eventbus.FeatureUpdated:
		return types.AlertInfo, "Feature updated"
	case eventbus.CostUpdate:
		return types.AlertInfo, "Cost updated"
	default:
		return types.AlertInfo, string(name)
	}
}

// Watch subscribes to bus and raises an Alert for every event it sees,
// running until ctx-equivalent unsubscribe via the returned function is
// called. Session failures, timeouts, and crashes are promoted to a
// warning/error severity instead of the generic info default.
func (s *Store) Watch(bus *eventbus.Bus) func() {
	sub := bus.Subscribe()
	go func() {
		for ev := range sub.Events() {
			severity, title := severityForEvent(ev.Name)
			message := fmt.Sprintf("%v", ev.Data)
			featureID, sessionID := extractIDs(ev.Data)

			if ev.Name == eventbus.SessionEnded {
				if rec, ok := ev.Data.(types.SessionRecord); ok {
					switch rec.Outcome {
					case types.OutcomeFailure, types.OutcomeCrashed:
						severity, title = types.AlertError, "Session failed"
					case types.OutcomeTimeout:
						severity, title = types.AlertWarning, "Session timed out"
					case types.OutcomeHandoff:
						severity, title = types.AlertWarning, "Session handed off"
					case types.OutcomeSuccess:
						severity, title = types.AlertSuccess, "Session succeeded"
					}
					message = rec.Notes
					if message == "" {
						message = string(rec.Outcome)
					}
				}
			}

			if _, _, err := s.Raise(severity, string(ev.Name), title, message, featureID, sessionID); err != nil {
				continue
			}
		}
	}()
	return sub.Unsubscribe
}

func extractIDs(data any) (featureID, sessionID string) {
	switch v := data.(type) {
	case types.SessionRecord:
		return v.FeatureID, v.ID
	case *types.Feature:
		return v.ID, ""
	case types.Feature:
		return v.ID, ""
	default:
		return "", ""
	}
}

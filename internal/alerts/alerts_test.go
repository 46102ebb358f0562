package alerts

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fr3nn3r/ada-harness/internal/eventbus"
	"github.com/Fr3nn3r/ada-harness/internal/types"
)

func TestRaiseAndList(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "alerts.json"))
	require.NoError(t, err)

	a, created, err := s.Raise(types.AlertWarning, "feature.blocked", "Feature blocked", "dependency deadlock", "f1", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, a.ID)

	list := s.List(false)
	require.Len(t, list, 1)
	assert.Equal(t, "f1", list[0].FeatureID)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestRaiseDedupsWithinWindow(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "alerts.json"))
	require.NoError(t, err)
	s.dedupWindow = time.Hour

	_, created1, err := s.Raise(types.AlertError, "session.failed", "Session failed", "boom", "f1", "s1")
	require.NoError(t, err)
	assert.True(t, created1)

	_, created2, err := s.Raise(types.AlertError, "session.failed", "Session failed", "boom", "f1", "s1")
	require.NoError(t, err)
	assert.False(t, created2, "identical alert within the dedup window must be suppressed")

	assert.Len(t, s.List(false), 1)
}

func TestRaiseAfterDedupWindowCreatesNewAlert(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "alerts.json"))
	require.NoError(t, err)
	s.dedupWindow = time.Millisecond

	_, created1, err := s.Raise(types.AlertError, "session.failed", "Session failed", "boom", "f1", "s1")
	require.NoError(t, err)
	require.True(t, created1)

	time.Sleep(5 * time.Millisecond)

	_, created2, err := s.Raise(types.AlertError, "session.failed", "Session failed", "boom", "f1", "s1")
	require.NoError(t, err)
	assert.True(t, created2)
	assert.Len(t, s.List(false), 2)
}

func TestRaiseCapsAtMaxAlerts(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "alerts.json"))
	require.NoError(t, err)
	s.dedupWindow = 0

	for i := 0; i < maxAlerts+10; i++ {
		_, _, err := s.Raise(types.AlertInfo, "x", "t", fmt.Sprintf("message %d", i), "f", "")
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(s.alerts), maxAlerts)
}

func TestMarkReadAndMarkAllRead(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "alerts.json"))
	require.NoError(t, err)
	a, _, err := s.Raise(types.AlertInfo, "x", "t", "m", "", "")
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(a.ID))
	assert.Equal(t, 0, s.UnreadCount())

	_, _, err = s.Raise(types.AlertInfo, "y", "t2", "m2", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.UnreadCount())

	require.NoError(t, s.MarkAllRead())
	assert.Equal(t, 0, s.UnreadCount())
}

func TestMarkReadUnknownIDErrors(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "alerts.json"))
	require.NoError(t, err)
	assert.Error(t, s.MarkRead("nonexistent"))
}

func TestLoadReopensPersistedAlerts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	s1, err := New(path)
	require.NoError(t, err)
	_, _, err = s1.Raise(types.AlertInfo, "x", "t", "m", "", "")
	require.NoError(t, err)

	s2, err := New(path)
	require.NoError(t, err)
	assert.Len(t, s2.List(false), 1)
}

func TestWatchPromotesSessionOutcomeSeverity(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "alerts.json"))
	require.NoError(t, err)

	bus := eventbus.New(4)
	unsub := s.Watch(bus)
	defer unsub()

	bus.Publish(eventbus.SessionEnded, types.SessionRecord{ID: "s1", FeatureID: "f1", Outcome: types.OutcomeFailure, Notes: "crashed"})

	require.Eventually(t, func() bool {
		return len(s.List(false)) == 1
	}, time.Second, time.Millisecond)

	list := s.List(false)
	require.Len(t, list, 1)
	assert.Equal(t, types.AlertError, list[0].Severity)
	assert.Equal(t, "f1", list[0].FeatureID)
	assert.Equal(t, "s1", list[0].SessionID)
}

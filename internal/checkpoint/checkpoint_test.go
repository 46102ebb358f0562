package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

func TestLoadMissingReturnsNilNil(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "checkpoint.json"))
	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "checkpoint.json"))
	require.NoError(t, s.Save(types.Checkpoint{FeatureID: "f1", Attempt: 2, LastGoodCommit: "abc123", HandoffNotes: "partway there"}))

	cp, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "f1", cp.FeatureID)
	assert.Equal(t, 2, cp.Attempt)
	assert.Equal(t, "abc123", cp.LastGoodCommit)
	assert.False(t, cp.Timestamp.IsZero(), "Save must stamp Timestamp")
}

func TestClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := New(path)
	require.NoError(t, s.Save(types.Checkpoint{FeatureID: "f1"}))

	require.NoError(t, s.Clear())
	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)

	// Clearing an already-absent checkpoint is not an error.
	require.NoError(t, s.Clear())
}

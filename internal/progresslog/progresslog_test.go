package progresslog

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

func TestAppendAndFull(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "PROGRESS_LOG.md"), "", 0)

	require.NoError(t, l.Append(types.ProgressEntry{
		Kind: types.ProgressSessionStart, Timestamp: time.Now(), SessionID: "s1", FeatureID: "f1", Body: "starting work",
	}))
	require.NoError(t, l.Append(types.ProgressEntry{
		Kind: types.ProgressSessionEnd, Timestamp: time.Now(), SessionID: "s1", FeatureID: "f1", Body: "done",
	}))

	full, err := l.Full()
	require.NoError(t, err)
	assert.Contains(t, full, "SESSION_START")
	assert.Contains(t, full, "SESSION_END")
	assert.Contains(t, full, "starting work")
	assert.Contains(t, full, "done")
	assert.Contains(t, full, "feature=f1")
}

func TestFullOnMissingFileReturnsEmpty(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "PROGRESS_LOG.md"), "", 0)
	full, err := l.Full()
	require.NoError(t, err)
	assert.Equal(t, "", full)
}

func TestTailLines(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "PROGRESS_LOG.md"), "", 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(types.ProgressEntry{Kind: types.ProgressHandoff, Timestamp: time.Now(), SessionID: "s", Body: strings.Repeat("x", 1)}))
	}
	tail, err := l.TailLines(2)
	require.NoError(t, err)
	// Each entry contributes multiple lines; TailLines(2) returns only the last 2 lines overall.
	assert.LessOrEqual(t, len(strings.Split(tail, "\n")), 2)
}

func TestRotationArchivesAndTruncates(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	l := New(filepath.Join(dir, "PROGRESS_LOG.md"), archiveDir, 10) // rotate almost immediately

	require.NoError(t, l.Append(types.ProgressEntry{Kind: types.ProgressSessionEnd, Timestamp: time.Now(), SessionID: "s1", Body: "a reasonably long entry body to exceed the threshold"}))

	full, err := l.Full()
	require.NoError(t, err)
	assert.Equal(t, "", full, "log should have been truncated after rotation")

	entries, err := filepathGlob(archiveDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "exactly one archive bundle should exist")
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.tar.gz"))
}

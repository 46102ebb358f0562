package vcsadapter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available on PATH")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial commit")
	return dir
}

func TestStatusCleanAndDirty(t *testing.T) {
	dir := initRepo(t)
	g, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	status, err := g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Clean)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("data"), 0o644))

	status, err = g.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Clean)
	assert.Contains(t, status.Untracked, "new.txt")
}

func TestCommitAllNoChangesReturnsEmptyHash(t *testing.T) {
	dir := initRepo(t)
	g, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := g.CommitAll(ctx, "nothing to commit")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestCommitAllCreatesCommitAndAdvancesHead(t *testing.T) {
	dir := initRepo(t)
	g, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	before, err := g.HeadCommit(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("new feature"), 0o644))
	hash, err := g.CommitAll(ctx, "add feature")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, before, hash)

	after, err := g.HeadCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, hash, after)

	status, err := g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Clean)
}

func TestRecentCommitsOrderedNewestFirst(t *testing.T) {
	dir := initRepo(t)
	g, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	second, err := g.CommitAll(ctx, "second commit")
	require.NoError(t, err)

	commits, err := g.RecentCommits(ctx, 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, second, commits[0])
}

func TestResetHardDiscardsChanges(t *testing.T) {
	dir := initRepo(t)
	g, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	before, err := g.HeadCommit(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	_, err = g.CommitAll(ctx, "commit to revert")
	require.NoError(t, err)

	require.NoError(t, g.Reset(ctx, before, true))
	after, err := g.HeadCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = os.Stat(filepath.Join(dir, "b.txt"))
	assert.True(t, os.IsNotExist(err))
}

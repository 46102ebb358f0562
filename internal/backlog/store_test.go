package backlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

func feature(id string, status types.FeatureStatus, priority int, deps ...string) *types.Feature {
	return &types.Feature{
		ID: id, Name: "feature " + id, Category: types.CategoryFunctional,
		Status: status, Priority: priority, DependsOn: deps,
	}
}

func TestStoreInitLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feature-list.json")

	s := New(path)
	_, err := s.Init("myproj", dir)
	require.NoError(t, err)

	require.NoError(t, s.AddFeature(feature("f1", types.StatusPending, 0)))

	s2 := New(path)
	loaded, err := s2.Load()
	require.NoError(t, err)
	assert.Equal(t, "myproj", loaded.ProjectName)
	require.Len(t, loaded.Features, 1)
	assert.Equal(t, "f1", loaded.Features[0].ID)
}

func TestSelectNextPrefersInProgressThenPriorityThenOrder(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "feature-list.json"))
	_, err := s.Init("proj", "")
	require.NoError(t, err)

	require.NoError(t, s.AddFeature(feature("low", types.StatusPending, 1)))
	require.NoError(t, s.AddFeature(feature("high", types.StatusPending, 10)))
	require.NoError(t, s.AddFeature(feature("active", types.StatusInProgress, 0)))

	next := s.SelectNext()
	require.NotNil(t, next)
	assert.Equal(t, "active", next.ID, "in_progress must be selected ahead of any pending feature regardless of priority")
}

func TestSelectNextSkipsIncompleteDependencies(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "feature-list.json"))
	_, err := s.Init("proj", "")
	require.NoError(t, err)

	require.NoError(t, s.AddFeature(feature("base", types.StatusPending, 0)))
	require.NoError(t, s.AddFeature(feature("dependent", types.StatusPending, 10, "base")))

	next := s.SelectNext()
	require.NotNil(t, next)
	assert.Equal(t, "base", next.ID, "dependent feature must not be selected before its dependency completes")

	require.NoError(t, s.UpdateFeature("base", func(f *types.Feature) { f.Status = types.StatusInProgress }))
	require.NoError(t, s.UpdateFeature("base", func(f *types.Feature) { f.Status = types.StatusCompleted }))

	next = s.SelectNext()
	require.NotNil(t, next)
	assert.Equal(t, "dependent", next.ID)
}

func TestSelectNextReturnsNilWhenNothingRunnable(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "feature-list.json"))
	_, err := s.Init("proj", "")
	require.NoError(t, err)
	assert.Nil(t, s.SelectNext())

	require.NoError(t, s.AddFeature(feature("f1", types.StatusCompleted, 0)))
	assert.Nil(t, s.SelectNext())
}

func TestUpdateFeatureRejectsIllegalTransition(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "feature-list.json"))
	_, err := s.Init("proj", "")
	require.NoError(t, err)
	require.NoError(t, s.AddFeature(feature("f1", types.StatusPending, 0)))

	err = s.UpdateFeature("f1", func(f *types.Feature) { f.Status = types.StatusCompleted })
	assert.Error(t, err, "pending cannot jump straight to completed")
}

func TestUpdateFeatureRejectsSessionsSpentRegression(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "feature-list.json"))
	_, err := s.Init("proj", "")
	require.NoError(t, err)
	f := feature("f1", types.StatusPending, 0)
	f.SessionsSpent = 2
	require.NoError(t, s.AddFeature(f))

	err = s.UpdateFeature("f1", func(f *types.Feature) { f.SessionsSpent = 1 })
	assert.Error(t, err)
}

func TestHasUnrunnableRemainder(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "feature-list.json"))
	_, err := s.Init("proj", "")
	require.NoError(t, err)
	assert.False(t, s.HasUnrunnableRemainder())

	// A lone blocked feature is a non-fatal hard surface: nothing
	// pending or in_progress is waiting on it.
	require.NoError(t, s.AddFeature(feature("f1", types.StatusBlocked, 0)))
	assert.False(t, s.HasUnrunnableRemainder())

	// A pending feature with no runnable candidate (its dependency is
	// the blocked feature above) is the fatal deadlock case.
	require.NoError(t, s.AddFeature(feature("f2", types.StatusPending, 0, "f1")))
	assert.True(t, s.HasUnrunnableRemainder())
}

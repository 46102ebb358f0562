// Package backlog implements the Backlog Store: load/save the feature
// list, enforce schema and dependency invariants, and select the next
// runnable feature.
//
// Persistence follows a write-temp-then-rename discipline for crash
// safety, applied to a plain JSON document.
package backlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

// Store owns the on-disk feature-list.json document and serializes all
// mutations behind a mutex; the Scheduler and Telemetry API are the only
// expected concurrent readers.
type Store struct {
	path string

	mu sync.RWMutex
	b  *types.Backlog
}

// New returns a Store bound to path, without loading it yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and validates the backlog document from disk.
func (s *Store) Load() (*types.Backlog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("backlog: read %s: %w", s.path, err)
	}
	var b types.Backlog
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBacklogInvalid, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	s.b = &b
	return &b, nil
}

// Save atomically persists the current in-memory backlog via
// write-temp-then-rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.b == nil {
		return fmt.Errorf("backlog: nothing loaded to save")
	}
	s.b.LastUpdated = time.Now()
	if err := s.b.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.b, "", "  ")
	if err != nil {
		return fmt.Errorf("backlog: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".feature-list-*.tmp")
	if err != nil {
		return fmt.Errorf("backlog: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("backlog: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("backlog: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backlog: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backlog: rename: %w", err)
	}
	return nil
}

// Init creates and persists a fresh empty backlog document.
func (s *Store) Init(projectName, projectPath string) (*types.Backlog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.b = &types.Backlog{
		ProjectName: projectName,
		ProjectPath: projectPath,
		Features:    []*types.Feature{},
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s.b, nil
}

// AddFeature appends a new feature and persists the result.
func (s *Store) AddFeature(f *types.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b == nil {
		return fmt.Errorf("backlog: not loaded")
	}
	if f.Status == "" {
		f.Status = types.StatusPending
	}
	s.b.Features = append(s.b.Features, f)
	return s.saveLocked()
}

// UpdateFeature looks up the feature by id, applies mutator, and persists
// the result. mutator must respect Feature.CanTransitionTo; UpdateFeature
// rejects an illegal status transition.
func (s *Store) UpdateFeature(id string, mutator func(f *types.Feature)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b == nil {
		return fmt.Errorf("backlog: not loaded")
	}
	f := s.b.FindFeature(id)
	if f == nil {
		return fmt.Errorf("backlog: unknown feature %q", id)
	}
	before := f.Status
	beforeSessions := f.SessionsSpent
	orig := *f
	mutator(f)
	if f.SessionsSpent < beforeSessions {
		*f = orig
		return fmt.Errorf("backlog: feature %s: sessions_spent must not decrease", id)
	}
	if !canRegress(before, f.Status) {
		*f = orig
		return fmt.Errorf("backlog: feature %s: illegal transition %s -> %s", id, before, f.Status)
	}
	return s.saveLocked()
}

func canRegress(before, after types.FeatureStatus) bool {
	tmp := &types.Feature{Status: before}
	return tmp.CanTransitionTo(after)
}

// SelectNext chooses the next runnable feature: in_progress before
// pending, then highest priority, then insertion order, stable across
// ties. Returns nil when no feature is runnable.
func (s *Store) SelectNext() *types.Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.b == nil {
		return nil
	}

	type candidate struct {
		f   *types.Feature
		idx int
	}
	var runnable []candidate
	for i, f := range s.b.Features {
		if f.Status != types.StatusInProgress && f.Status != types.StatusPending {
			continue
		}
		if !s.b.DependenciesComplete(f) {
			continue
		}
		runnable = append(runnable, candidate{f, i})
	}
	if len(runnable) == 0 {
		return nil
	}
	sort.SliceStable(runnable, func(i, j int) bool {
		a, b := runnable[i], runnable[j]
		aInProg := a.f.Status == types.StatusInProgress
		bInProg := b.f.Status == types.StatusInProgress
		if aInProg != bInProg {
			return aInProg
		}
		if a.f.Priority != b.f.Priority {
			return a.f.Priority > b.f.Priority
		}
		return a.idx < b.idx
	})
	return runnable[0].f
}

// HasUnrunnableRemainder reports whether the backlog is deadlocked: at
// least one pending or in_progress feature remains and none of them has
// all of its dependencies completed, the fatal condition the Scheduler
// must detect when SelectNext returns nil but the backlog is not complete.
// A feature that is merely blocked by retry exhaustion does not count on
// its own: only pending and in_progress features are considered, so a
// blocked feature matters only when a remaining feature depends on it.
func (s *Store) HasUnrunnableRemainder() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.b == nil {
		return false
	}
	stuck := false
	for _, f := range s.b.Features {
		if f.Status != types.StatusPending && f.Status != types.StatusInProgress {
			continue
		}
		if s.b.DependenciesComplete(f) {
			return false
		}
		stuck = true
	}
	return stuck
}

// Snapshot returns a deep-enough copy of the current backlog for readers
// (e.g. the Telemetry API) that must not observe partial mutation.
func (s *Store) Snapshot() *types.Backlog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.b == nil {
		return nil
	}
	cp := *s.b
	cp.Features = make([]*types.Feature, len(s.b.Features))
	for i, f := range s.b.Features {
		fc := *f
		cp.Features[i] = &fc
	}
	return &cp
}

package types

import (
	"fmt"
	"time"
)

// Backlog is the project's ordered feature set plus project identity.
type Backlog struct {
	ProjectName string     `json:"project_name"`
	ProjectPath string     `json:"project_path"`
	Features    []*Feature `json:"features"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	LastUpdated time.Time  `json:"last_updated,omitempty"`
}

// ErrBacklogInvalid is returned (wrapped) by Validate on schema violation,
// a dependency cycle, or a dangling dependency reference.
var ErrBacklogInvalid = fmt.Errorf("backlog invalid")

// Validate enforces the cross-feature invariants: unique ids, every
// dependency resolves within the same backlog, and no dependency cycles.
func (b *Backlog) Validate() error {
	if b.ProjectName == "" {
		return fmt.Errorf("%w: project_name must not be empty", ErrBacklogInvalid)
	}
	seen := make(map[string]*Feature, len(b.Features))
	for _, f := range b.Features {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrBacklogInvalid, err)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("%w: duplicate feature id %q", ErrBacklogInvalid, f.ID)
		}
		seen[f.ID] = f
	}
	for _, f := range b.Features {
		for _, dep := range f.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("%w: feature %s depends on unknown feature %q", ErrBacklogInvalid, f.ID, dep)
			}
		}
	}
	if cyc := findCycle(b.Features); cyc != "" {
		return fmt.Errorf("%w: dependency cycle through feature %q", ErrBacklogInvalid, cyc)
	}
	return nil
}

// findCycle returns the id of a feature participating in a dependency
// cycle, or "" if the dependency graph is acyclic.
func findCycle(features []*Feature) string {
	byID := make(map[string]*Feature, len(features))
	for _, f := range features {
		byID[f.ID] = f
	}
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(features))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		f := byID[id]
		for _, dep := range f.DependsOn {
			if cyc := visit(dep); cyc != "" {
				return cyc
			}
		}
		state[id] = done
		return ""
	}

	for _, f := range features {
		if state[f.ID] == unvisited {
			if cyc := visit(f.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// FindFeature returns the feature with the given id, or nil.
func (b *Backlog) FindFeature(id string) *Feature {
	for _, f := range b.Features {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// DependenciesComplete reports whether every dependency of f is completed.
func (b *Backlog) DependenciesComplete(f *Feature) bool {
	for _, dep := range f.DependsOn {
		d := b.FindFeature(dep)
		if d == nil || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// IsComplete reports whether every feature in the backlog is completed.
func (b *Backlog) IsComplete() bool {
	for _, f := range b.Features {
		if f.Status != StatusCompleted {
			return false
		}
	}
	return true
}

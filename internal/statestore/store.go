package statestore

import (
	"sort"
	"sync"

	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/registry"
)

// Status is the lifecycle state of a target during a build.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusBuilt
	StatusCached
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusBuilt:
		return "built"
	case StatusCached:
		return "cached"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s >= StatusBuilt
}

// Succeeded reports whether the target has a usable output.
func (s Status) Succeeded() bool {
	return s == StatusBuilt || s == StatusCached
}

// Store holds target state for one build.
type Store struct {
	states  sync.Map // label string -> Status
	outputs sync.Map // label string -> *registry.Output
	errors  sync.Map // label string -> error
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

func (s *Store) SetStatus(l label.Label, status Status) {
	s.states.Store(l.String(), status)
}

// Status returns the status of l, StatusPending if none was set.
func (s *Store) Status(l label.Label) Status {
	v, ok := s.states.Load(l.String())
	if !ok {
		return StatusPending
	}
	return v.(Status)
}

func (s *Store) SetOutput(l label.Label, out *registry.Output) {
	s.outputs.Store(l.String(), out)
}

// Output returns the output of l, or nil.
func (s *Store) Output(l label.Label) *registry.Output {
	v, ok := s.outputs.Load(l.String())
	if !ok {
		return nil
	}
	return v.(*registry.Output)
}

func (s *Store) SetError(l label.Label, err error) {
	s.errors.Store(l.String(), err)
}

// Error returns the recorded failure of l, or nil.
func (s *Store) Error(l label.Label) error {
	v, ok := s.errors.Load(l.String())
	if !ok {
		return nil
	}
	return v.(error)
}

// Snapshot returns the status of every target that has one, keyed by label.
func (s *Store) Snapshot() map[string]Status {
	out := make(map[string]Status)
	s.states.Range(func(k, v any) bool {
		out[k.(string)] = v.(Status)
		return true
	})
	return out
}

// WithStatus returns the sorted labels currently in status.
func (s *Store) WithStatus(status Status) []string {
	var out []string
	s.states.Range(func(k, v any) bool {
		if v.(Status) == status {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}

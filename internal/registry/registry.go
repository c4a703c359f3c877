package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/buildgrid/internal/config"
)

// Task is everything an action needs to build one target.
type Task struct {
	Target        *config.Target
	Model         *config.Model
	WorkspaceRoot string
	OutputDir     string
	ActionKey     string

	// Deps holds the outputs of the target's direct internal dependencies,
	// keyed by label string.
	Deps map[string]*Output
	// Closure is every internal target the target transitively depends on,
	// in topological order.
	Closure []*config.Target
	// Externals holds the fetched externals the target references, keyed by name.
	Externals map[string]ExternalInput
}

// ExternalInput is a fetched external as seen by an action.
type ExternalInput struct {
	Path   string
	Digest string
}

// PackageDir returns the absolute directory of the task's package.
func (t *Task) PackageDir() string {
	return filepath.Join(t.WorkspaceRoot, filepath.FromSlash(t.Target.Label.Package))
}

// OutputPath returns where the target's artifact with the given suffix lives.
func (t *Task) OutputPath(suffix string) string {
	return filepath.Join(t.OutputDir, filepath.FromSlash(t.Target.Label.Package), t.Target.Label.Name+suffix)
}

// Output is the artifact an action produced.
type Output struct {
	Path   string   `json:"path"`
	Digest string   `json:"digest"`
	Files  []string `json:"files,omitempty"`
	// Extra holds further files the action wrote next to Path, such as an
	// image layer. They are checked on cache hits like Path itself.
	Extra []string `json:"extra,omitempty"`
}

// Action builds a target.
type Action interface {
	Build(ctx context.Context, task *Task) (*Output, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, task *Task) (*Output, error)

func (f ActionFunc) Build(ctx context.Context, task *Task) (*Output, error) {
	return f(ctx, task)
}

// Module is the interface that all action modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the actions of a single application instance.
type Registry struct {
	kinds    map[string]Action
	suffixes map[string]Action
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		kinds:    make(map[string]Action),
		suffixes: make(map[string]Action),
	}
}

// RegisterKind registers an action for an exact target kind.
func (r *Registry) RegisterKind(kind string, a Action) {
	if _, exists := r.kinds[kind]; exists {
		panic(fmt.Sprintf("action for kind '%s' already registered", kind))
	}
	slog.Debug("Registering action.", "kind", kind)
	r.kinds[kind] = a
}

// RegisterSuffix registers an action for every kind ending in suffix.
func (r *Registry) RegisterSuffix(suffix string, a Action) {
	if _, exists := r.suffixes[suffix]; exists {
		panic(fmt.Sprintf("action for suffix '%s' already registered", suffix))
	}
	slog.Debug("Registering action.", "suffix", suffix)
	r.suffixes[suffix] = a
}

// Lookup returns the action for kind. Exact registrations win over suffixes,
// and longer suffixes win over shorter ones.
func (r *Registry) Lookup(kind string) (Action, bool) {
	if a, ok := r.kinds[kind]; ok {
		return a, true
	}
	best := ""
	for suffix := range r.suffixes {
		if len(kind) > len(suffix) && strings.HasSuffix(kind, suffix) && len(suffix) > len(best) {
			best = suffix
		}
	}
	if best == "" {
		return nil, false
	}
	return r.suffixes[best], true
}

// Kinds lists the registered kinds and suffixes (suffixes prefixed with '*').
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds)+len(r.suffixes))
	for k := range r.kinds {
		out = append(out, k)
	}
	for s := range r.suffixes {
		out = append(out, "*"+s)
	}
	sort.Strings(out)
	return out
}

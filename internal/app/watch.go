package app

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/watch"
)

// Watch validates the workspace, then re-validates it whenever a manifest or
// a requirements file changes, until ctx is canceled.
func (a *App) Watch(ctx context.Context) error {
	ctx = a.withLogger(ctx)
	requirements := &fileSet{}
	onChange := func(ctx context.Context, changed []string) {
		a.revalidate(ctx, changed)
		requirements.reset(a.requirementFiles(ctx))
	}
	onChange(ctx, nil)

	names := a.loader.ManifestNames()
	w, err := watch.New(a.config.WorkspaceRoot, watch.Options{
		Debounce: a.config.WatchDebounce,
		Relevant: func(p string) bool {
			return slices.Contains(names, filepath.Base(p)) || requirements.has(p)
		},
	}, onChange)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// fileSet is the set of requirements files that trigger re-validation. It is
// replaced after every change, since manifests may add or drop externals.
type fileSet struct {
	mu    sync.RWMutex
	paths map[string]bool
}

func (s *fileSet) reset(paths map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = paths
}

func (s *fileSet) has(p string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paths[p]
}

func (a *App) revalidate(ctx context.Context, changed []string) {
	if len(changed) > 0 {
		a.logger.Info("🔄 Change detected, re-validating", "files", changed)
	}
	if err := a.Validate(ctx); err != nil {
		a.logger.Error("Validation failed.", "error", err)
	}
}

// requirementFiles returns the absolute paths of the workspace's pip
// requirements files, so that edits to them trigger re-validation.
func (a *App) requirementFiles(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	model, err := a.loader.Load(ctx, a.config.WorkspaceRoot)
	if model == nil || model.Workspace == nil {
		if err != nil {
			a.logger.Debug("Workspace could not be loaded, watching manifests only.", "error", err)
		}
		return out
	}
	for _, ext := range model.SortedExternals() {
		if ext.Kind == config.KindPipRequirements {
			out[filepath.Join(model.Workspace.Root, filepath.FromSlash(ext.File))] = true
		}
	}
	return out
}

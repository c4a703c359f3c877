// Package watch re-runs a callback when workspace manifests change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vk/buildgrid/internal/ctxlog"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes every directory under a workspace root.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	relevant func(path string) bool
	onChange func(ctx context.Context, changed []string)
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Relevant filters the paths that trigger the callback. Nil means every
	// file named in ManifestNames.
	Relevant      func(path string) bool
	ManifestNames []string
}

// New creates a watcher over root and every non-hidden directory beneath
// it. The callback receives the sorted, de-duplicated paths that changed
// during a debounce window.
func New(root string, opts Options, onChange func(ctx context.Context, changed []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	relevant := opts.Relevant
	if relevant == nil {
		names := opts.ManifestNames
		relevant = func(p string) bool {
			base := filepath.Base(p)
			for _, n := range names {
				if base == n {
					return true
				}
			}
			return false
		}
	}

	w := &Watcher{root: abs, watcher: fw, debounce: opts.Debounce, relevant: relevant, onChange: onChange}
	if err := w.addTree(abs); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// WatchList returns the directories currently watched.
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

// Run processes events until ctx is canceled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	logger.Info("👀 Watching workspace", "root", w.root, "directories", len(w.watcher.WatchList()))
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !hidden(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						logger.Warn("Failed to watch new directory.", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !w.relevant(event.Name) {
				continue
			}
			logger.Debug("Manifest change detected.", "path", event.Name, "op", event.Op.String())
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			w.onChange(ctx, changed)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Watcher error.", "error", err)
		}
	}
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && hidden(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func hidden(p string) bool {
	return strings.HasPrefix(filepath.Base(p), ".")
}

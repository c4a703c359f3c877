package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/digest"
	"github.com/vk/buildgrid/internal/ledger"
	"github.com/vk/buildgrid/internal/registry"
)

// actionKey digests everything that determines a target's output: its kind
// and label, the contents of its sources and data, the action keys of its
// internal dependencies and the digests of the externals it references.
// Dependency keys are read after the dependency finished, so the key covers
// the whole transitive closure.
func (e *Executor) actionKey(ctx context.Context, n *node) (string, error) {
	t := n.target
	lines := []string{"kind " + t.Kind, "label " + t.Label.String()}

	pkgDir := filepath.Join(e.opts.WorkspaceRoot, filepath.FromSlash(t.Label.Package))
	for _, group := range []struct {
		name  string
		files []string
	}{{"src", t.Srcs}, {"data", t.Data}} {
		files := append([]string(nil), group.files...)
		sort.Strings(files)
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			sum, err := digest.File(filepath.Join(pkgDir, filepath.FromSlash(f)))
			if err != nil {
				return "", fmt.Errorf("input %s of %s: %w", f, t.Label, err)
			}
			lines = append(lines, group.name+" "+f+" "+sum)
		}
	}

	for _, dep := range n.deps {
		lines = append(lines, "dep "+dep.id+" "+dep.actionKey)
	}

	var external []string
	for _, l := range t.Deps {
		if !l.IsExternal() {
			continue
		}
		ext, ok := e.opts.Externals[l.Repo]
		if !ok {
			return "", fmt.Errorf("external %s of %s was not fetched", l.Repo, t.Label)
		}
		external = append(external, "external "+l.String()+" "+ext.Digest)
	}
	sort.Strings(external)
	lines = append(lines, external...)

	if t.Image != nil {
		lines = append(lines, "base "+baseReference(e.model, t.Image.Base))
	}
	return digest.Lines(lines), nil
}

func baseReference(model *config.Model, name string) string {
	if model == nil || model.Workspace == nil {
		return name
	}
	if b, ok := model.Workspace.BaseImages[name]; ok {
		return b.Reference()
	}
	return name
}

// lookupCache returns the recorded output of n's action key when the output
// file and every extra file still exist with their recorded digests.
func (e *Executor) lookupCache(ctx context.Context, n *node) (*registry.Output, bool) {
	if e.opts.Ledger == nil {
		return nil, false
	}
	logger := ctxlog.FromContext(ctx)
	rec, err := e.opts.Ledger.LookupAction(ctx, n.actionKey)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			logger.Warn("Action cache lookup failed.", "error", err)
		}
		return nil, false
	}

	files := append([]ledger.ActionFile{{Path: rec.OutputPath, Digest: rec.OutputDigest}}, rec.Extra...)
	for _, f := range files {
		sum, err := digest.File(f.Path)
		if err == nil && sum == f.Digest {
			continue
		}
		logger.Debug("Cached output is missing or modified, rebuilding.", "path", f.Path)
		if err := e.opts.Ledger.ForgetAction(ctx, n.actionKey); err != nil {
			logger.Warn("Failed to drop stale action cache entry.", "error", err)
		}
		return nil, false
	}

	out := &registry.Output{Path: rec.OutputPath, Digest: rec.OutputDigest}
	for _, f := range rec.Extra {
		out.Extra = append(out.Extra, f.Path)
	}
	return out, true
}

func (e *Executor) recordCache(ctx context.Context, n *node, out *registry.Output) {
	if e.opts.Ledger == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	sum, err := digest.File(out.Path)
	if err != nil {
		logger.Warn("Output not cached, cannot digest it.", "path", out.Path, "error", err)
		return
	}
	rec := ledger.ActionRecord{
		Key:          n.actionKey,
		Label:        n.id,
		Kind:         n.target.Kind,
		OutputPath:   out.Path,
		OutputDigest: sum,
	}
	for _, p := range out.Extra {
		sum, err := digest.File(p)
		if err != nil {
			logger.Warn("Output not cached, cannot digest it.", "path", p, "error", err)
			return
		}
		rec.Extra = append(rec.Extra, ledger.ActionFile{Path: p, Digest: sum})
	}
	if err := e.opts.Ledger.RecordAction(ctx, rec); err != nil {
		logger.Warn("Failed to record action.", "error", err)
	}
}

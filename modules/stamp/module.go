// Package stamp builds library, binary, test and filegroup targets by
// digesting their inputs and writing a JSON target manifest. The manifest
// digest changes whenever a source, a data file or any dependency output
// changes, which is what dependents and images key on.
package stamp

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/digest"
	"github.com/vk/buildgrid/internal/fsutil"
	"github.com/vk/buildgrid/internal/registry"
)

// Suffix is appended to the target name to form its manifest file name.
const Suffix = ".target.json"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the stamp action for the generic kinds.
func (m *Module) Register(r *registry.Registry) {
	a := registry.ActionFunc(Build)
	for _, kind := range []string{"filegroup", "library", "binary", "test"} {
		r.RegisterKind(kind, a)
	}
	for _, suffix := range []string{"_library", "_binary", "_test"} {
		r.RegisterSuffix(suffix, a)
	}
}

// FileEntry is a digested input file, relative to the workspace root.
type FileEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// DepEntry is a dependency and the digest of its output.
type DepEntry struct {
	Label  string `json:"label"`
	Digest string `json:"digest"`
}

// Manifest is the file written for each stamped target.
type Manifest struct {
	Label      string      `json:"label"`
	Kind       string      `json:"kind"`
	Executable bool        `json:"executable,omitempty"`
	Test       bool        `json:"test,omitempty"`
	Srcs       []FileEntry `json:"srcs"`
	Data       []FileEntry `json:"data"`
	Deps       []DepEntry  `json:"deps"`
}

// Build digests the target's inputs and writes its manifest.
func Build(ctx context.Context, task *registry.Task) (*registry.Output, error) {
	logger := ctxlog.FromContext(ctx)
	t := task.Target

	m := Manifest{
		Label:      t.Label.String(),
		Kind:       t.Kind,
		Executable: config.IsBinaryKind(t.Kind),
		Test:       t.Kind == "test" || strings.HasSuffix(t.Kind, "_test"),
	}

	var err error
	if m.Srcs, err = digestFiles(ctx, task, t.Srcs); err != nil {
		return nil, err
	}
	if m.Data, err = digestFiles(ctx, task, t.Data); err != nil {
		return nil, err
	}
	if m.Deps, err = depEntries(task); err != nil {
		return nil, err
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	b = append(b, '\n')
	out := task.OutputPath(Suffix)
	if err := fsutil.WriteFileAtomic(out, b); err != nil {
		return nil, err
	}
	logger.Debug("Wrote target manifest.", "path", out, "srcs", len(m.Srcs), "deps", len(m.Deps))

	files := make([]string, 0, len(m.Srcs)+len(m.Data))
	for _, f := range m.Srcs {
		files = append(files, f.Path)
	}
	for _, f := range m.Data {
		files = append(files, f.Path)
	}
	sort.Strings(files)
	return &registry.Output{Path: out, Digest: digest.Bytes(b), Files: files}, nil
}

func digestFiles(ctx context.Context, task *registry.Task, rel []string) ([]FileEntry, error) {
	out := make([]FileEntry, 0, len(rel))
	for _, p := range rel {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := digest.File(filepath.Join(task.PackageDir(), filepath.FromSlash(p)))
		if err != nil {
			return nil, fmt.Errorf("input %s of %s: %w", p, task.Target.Label, err)
		}
		out = append(out, FileEntry{Path: path.Join(task.Target.Label.Package, p), SHA256: sum})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func depEntries(task *registry.Task) ([]DepEntry, error) {
	out := make([]DepEntry, 0, len(task.Target.Deps))
	for _, l := range task.Target.Deps {
		if l.IsExternal() {
			ext, ok := task.Externals[l.Repo]
			if !ok {
				return nil, fmt.Errorf("external %s of %s was not fetched", l.Repo, task.Target.Label)
			}
			out = append(out, DepEntry{Label: l.String(), Digest: ext.Digest})
			continue
		}
		dep, ok := task.Deps[l.String()]
		if !ok || dep == nil {
			return nil, fmt.Errorf("dependency %s of %s has no output", l, task.Target.Label)
		}
		out = append(out, DepEntry{Label: l.String(), Digest: dep.Digest})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

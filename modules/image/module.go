// Package image assembles container images from packaged targets. The image
// is written as a single deterministic tar layer holding every source and
// data file of the packaged closure under /app, plus a JSON config naming
// the base image and entrypoint.
package image

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/digest"
	"github.com/vk/buildgrid/internal/fsutil"
	"github.com/vk/buildgrid/internal/registry"
)

const (
	LayerSuffix  = ".layer.tar"
	ConfigSuffix = ".image.json"
	appRoot      = "app"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the image action.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKind(config.KindImage, registry.ActionFunc(Build))
}

// Layer describes one layer of the image.
type Layer struct {
	Path   string `json:"path"` // relative to the output directory
	SHA256 string `json:"sha256"`
	Files  int    `json:"files"`
}

// Config is the image description written next to the layer.
type Config struct {
	Name       string   `json:"name"`
	Base       string   `json:"base"`
	Entrypoint string   `json:"entrypoint"`
	Layers     []Layer  `json:"layers"`
	Packaged   []string `json:"packaged"`
}

// Name returns the image name for a target in pkg.
func Name(pkg, name string) string {
	if pkg == "" {
		return "buildgrid:" + name
	}
	return "buildgrid/" + pkg + ":" + name
}

// Build writes the image layer and config.
func Build(ctx context.Context, task *registry.Task) (*registry.Output, error) {
	logger := ctxlog.FromContext(ctx)
	t := task.Target
	if t.Image == nil {
		return nil, fmt.Errorf("target %s is not an image", t.Label)
	}

	base, err := baseReference(task.Model, t.Image.Base)
	if err != nil {
		return nil, err
	}

	files, packaged := closureFiles(task)
	layer, err := writeLayer(ctx, task, files)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Name:       Name(t.Label.Package, t.Label.Name),
		Base:       base,
		Entrypoint: t.Image.Entrypoint.String(),
		Layers:     []Layer{*layer},
		Packaged:   packaged,
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode image config: %w", err)
	}
	b = append(b, '\n')
	out := task.OutputPath(ConfigSuffix)
	if err := fsutil.WriteFileAtomic(out, b); err != nil {
		return nil, err
	}
	logger.Info("📦 Image assembled", "image", cfg.Name, "base", base, "files", len(files))

	return &registry.Output{
		Path:   out,
		Digest: digest.Bytes(b),
		Files:  files,
		Extra:  []string{task.OutputPath(LayerSuffix)},
	}, nil
}

func baseReference(model *config.Model, name string) (string, error) {
	if model == nil || model.Workspace == nil {
		return "", fmt.Errorf("base image %q: no workspace loaded", name)
	}
	b, ok := model.Workspace.BaseImages[name]
	if !ok {
		return "", fmt.Errorf("base image %q is not declared", name)
	}
	return b.Reference(), nil
}

// closureFiles returns the workspace-relative files of every packaged target
// and the sorted labels of the targets that contributed them.
func closureFiles(task *registry.Task) ([]string, []string) {
	seen := make(map[string]bool)
	var files, packaged []string
	for _, t := range task.Closure {
		if t.Kind == config.KindImage {
			continue
		}
		packaged = append(packaged, t.Label.String())
		for _, rel := range append(append([]string{}, t.Srcs...), t.Data...) {
			p := path.Join(t.Label.Package, rel)
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
		}
	}
	sort.Strings(files)
	sort.Strings(packaged)
	return files, packaged
}

// writeLayer writes files into a tar with fixed ownership and timestamps so
// that identical inputs produce byte-identical layers.
func writeLayer(ctx context.Context, task *registry.Task, files []string) (*Layer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(task.WorkspaceRoot, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("failed to package %s: %w", rel, err)
		}
		hdr := &tar.Header{
			Name:     path.Join(appRoot, rel),
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  time.Unix(0, 0).UTC(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	p := task.OutputPath(LayerSuffix)
	if err := fsutil.WriteFileAtomic(p, buf.Bytes()); err != nil {
		return nil, err
	}
	rel := path.Join(task.Target.Label.Package, task.Target.Label.Name+LayerSuffix)
	return &Layer{Path: rel, SHA256: digest.Bytes(buf.Bytes()), Files: len(files)}, nil
}

package config

import (
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/pip"
)

// ExternalKind names the supported external repository rules.
type ExternalKind string

const (
	KindHTTPArchive     ExternalKind = "http_archive"
	KindGitRepository   ExternalKind = "git_repository"
	KindPipRequirements ExternalKind = "pip_requirements"
)

// KindImage is the pseudo target kind given to `image` blocks.
const KindImage = "image"

// Model is the complete, format-agnostic representation of a workspace.
type Model struct {
	Workspace *Workspace
	Packages  map[string]*Package
	Targets   map[string]*Target // keyed by canonical label string
}

// Workspace is the root manifest.
type Workspace struct {
	Name       string
	Root       string // absolute directory holding the workspace manifest
	File       string
	Externals  map[string]*External
	BaseImages map[string]*BaseImage
}

// External is a third-party input declared in the workspace manifest.
type External struct {
	Name string
	Kind ExternalKind

	// http_archive
	URLs        []string
	StripPrefix string

	// git_repository
	Remote string
	Commit string

	// pip_requirements
	File         string // workspace-relative requirements file
	Requirements []string

	// SHA256 is the expected lowercase hex digest of the archive or requirements file.
	SHA256    string
	BuildFile *label.Label

	DeclRange hcl.Range
}

// Provides reports whether a dependency on l can be satisfied by this
// external. Pip externals export one target per requirement, matched on the
// normalized distribution name.
func (e *External) Provides(l label.Label) bool {
	if l.Repo != e.Name {
		return false
	}
	if e.Kind != KindPipRequirements {
		return true
	}
	if l.Package != "" {
		return false
	}
	if l.Name == e.Name {
		return true
	}
	name := pip.NormalizeName(l.Name)
	for _, req := range e.Requirements {
		if name == req {
			return true
		}
	}
	return false
}

// BaseImage is a container base declared in the workspace manifest.
type BaseImage struct {
	Name       string
	Registry   string
	Repository string
	Tag        string
	Digest     string
	DeclRange  hcl.Range
}

// Reference renders the pullable reference, preferring the digest when pinned.
func (b *BaseImage) Reference() string {
	ref := b.Repository
	if b.Registry != "" {
		ref = b.Registry + "/" + ref
	}
	if b.Tag != "" {
		ref += ":" + b.Tag
	}
	if b.Digest != "" {
		ref += "@" + b.Digest
	}
	return ref
}

// Package is a directory holding a package manifest.
type Package struct {
	Path              string // workspace-relative, slash-separated, "" for the root
	Dir               string // absolute directory
	File              string
	DefaultVisibility []label.Label
	Targets           []*Target
}

// Target is a buildable unit declared in a package manifest.
type Target struct {
	Label      label.Label
	Kind       string
	Srcs       []string // package-relative file paths
	Data       []string
	Deps       []label.Label
	Visibility []label.Label
	Image      *Image // set when Kind == KindImage
	DeclRange  hcl.Range
}

// Image describes a container image assembled from packaged targets.
type Image struct {
	Base       string
	Entrypoint label.Label
	Packages   []label.Label
}

// IsBinaryKind reports whether kind produces an executable entrypoint.
func IsBinaryKind(kind string) bool {
	return kind == "binary" || (strings.HasSuffix(kind, "_binary") && kind != "_binary")
}

// Target looks up a main-workspace target by label.
func (m *Model) Target(l label.Label) (*Target, bool) {
	t, ok := m.Targets[l.String()]
	return t, ok
}

// External looks up an external by repository name.
func (m *Model) External(name string) (*External, bool) {
	if m.Workspace == nil {
		return nil, false
	}
	e, ok := m.Workspace.Externals[name]
	return e, ok
}

// SortedTargets returns every target in canonical label order.
func (m *Model) SortedTargets() []*Target {
	out := make([]*Target, 0, len(m.Targets))
	for _, t := range m.Targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label.String() < out[j].Label.String() })
	return out
}

// SortedExternals returns every external in name order.
func (m *Model) SortedExternals() []*External {
	if m.Workspace == nil {
		return nil
	}
	out := make([]*External, 0, len(m.Workspace.Externals))
	for _, e := range m.Workspace.Externals {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PackagePaths returns every package path in sorted order.
func (m *Model) PackagePaths() []string {
	out := make([]string, 0, len(m.Packages))
	for p := range m.Packages {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

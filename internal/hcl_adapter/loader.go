package hcl_adapter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	ignore []string
}

// NewLoader creates a new HCL workspace loader. Directories named in ignore
// are never searched for package manifests.
func NewLoader(ignore ...string) *Loader {
	return &Loader{ignore: ignore}
}

// ManifestNames returns the workspace and package manifest file names.
func (l *Loader) ManifestNames() []string {
	return []string{WorkspaceFileName, BuildFileName}
}

// Load parses the workspace manifest at root and every package manifest
// beneath it. Syntax and schema errors are returned as HCL diagnostics.
// Duplicate declarations and malformed labels do not stop loading; they are
// collected and returned together as a *failure.GraphError alongside the
// partially populated model.
func (l *Loader) Load(ctx context.Context, root string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root %s: %w", root, err)
	}
	wsPath := filepath.Join(absRoot, WorkspaceFileName)
	if _, err := os.Stat(wsPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no %s found in %s", WorkspaceFileName, absRoot)
		}
		return nil, fmt.Errorf("error accessing %s: %w", wsPath, err)
	}
	logger.Debug("HCL loader started.", "root", absRoot)

	parser := hclparse.NewParser()
	ws, problems, err := l.loadWorkspace(ctx, parser, absRoot, wsPath)
	if err != nil {
		return nil, err
	}

	buildFiles, err := fsutil.FindFilesNamed(absRoot, BuildFileName, l.ignore)
	if err != nil {
		return nil, fmt.Errorf("failed to discover package manifests: %w", err)
	}
	pkgPaths := make(map[string]struct{}, len(buildFiles))
	for _, f := range buildFiles {
		pkgPaths[packagePath(absRoot, f)] = struct{}{}
	}
	logger.Debug("Discovered package manifests.", "count", len(buildFiles))

	model := &config.Model{
		Workspace: ws,
		Packages:  make(map[string]*config.Package, len(buildFiles)),
		Targets:   make(map[string]*config.Target),
	}
	for _, f := range buildFiles {
		pkgPath := packagePath(absRoot, f)
		boundary := func(rel string) bool {
			_, ok := pkgPaths[path.Join(pkgPath, rel)]
			return ok
		}
		pkg, pkgProblems, err := l.loadPackage(ctx, parser, pkgPath, f, boundary)
		if err != nil {
			return nil, err
		}
		problems = append(problems, pkgProblems...)
		model.Packages[pkgPath] = pkg

		for _, t := range pkg.Targets {
			key := t.Label.String()
			if prev, exists := model.Targets[key]; exists {
				problems = append(problems, failure.Problem{
					Kind:    failure.ProblemDuplicate,
					Targets: []string{key},
					Message: fmt.Sprintf("target declared twice, at %s and %s", prev.DeclRange, t.DeclRange),
				})
				continue
			}
			model.Targets[key] = t
		}
	}

	logger.Debug("HCL loading complete.",
		"packages", len(model.Packages),
		"targets", len(model.Targets),
		"externals", len(ws.Externals),
		"base_images", len(ws.BaseImages),
		"problems", len(problems),
	)
	if len(problems) > 0 {
		return model, &failure.GraphError{Problems: problems}
	}
	return model, nil
}

func (l *Loader) loadWorkspace(ctx context.Context, parser *hclparse.Parser, root, file string) (*config.Workspace, []failure.Problem, error) {
	hclFile, diags := parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
	}
	content, diags := hclFile.Body.Content(workspaceFileSchema)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
	}

	ws, problems, diags := l.translateWorkspace(ctx, root, file, content.Blocks)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
	}
	return ws, problems, nil
}

func (l *Loader) loadPackage(ctx context.Context, parser *hclparse.Parser, pkgPath, file string, boundary func(string) bool) (*config.Package, []failure.Problem, error) {
	hclFile, diags := parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
	}
	content, diags := hclFile.Body.Content(buildFileSchema)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
	}

	pkg := &config.Package{
		Path: pkgPath,
		Dir:  filepath.Dir(file),
		File: file,
	}
	problems, diags := l.translatePackage(ctx, pkg, content.Blocks, boundary)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
	}
	return pkg, problems, nil
}

// packagePath converts a manifest path into the slash-separated package path.
func packagePath(root, file string) string {
	rel, err := filepath.Rel(root, filepath.Dir(file))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Ensure Loader satisfies the interface.
var _ config.Loader = (*Loader)(nil)

// diagError builds a single error diagnostic anchored at rng.
func diagError(rng hcl.Range, summary, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  rng.Ptr(),
	}
}

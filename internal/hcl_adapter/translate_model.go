// This file contains the logic for translating decoded HCL blocks into the
// format-agnostic configuration model defined in the config package.

package hcl_adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/hclutil"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/pip"
)

// translateWorkspace converts the blocks of the workspace manifest.
func (l *Loader) translateWorkspace(ctx context.Context, root, file string, blocks hcl.Blocks) (*config.Workspace, []failure.Problem, hcl.Diagnostics) {
	logger := ctxlog.FromContext(ctx)
	ws := &config.Workspace{
		Name:       filepath.Base(root),
		Root:       root,
		File:       file,
		Externals:  make(map[string]*config.External),
		BaseImages: make(map[string]*config.BaseImage),
	}

	wsBlock, diags := hclutil.FindUniqueBlock(blocks, "workspace")
	if wsBlock != nil {
		var body workspaceBody
		diags = append(diags, gohcl.DecodeBody(wsBlock.Body, nil, &body)...)
		ws.Name = wsBlock.Labels[0]
	} else if !diags.HasErrors() {
		diags = append(diags, diagError(hcl.Range{Filename: file}, "Missing workspace block", "WORKSPACE.hcl must declare exactly one workspace block."))
	}

	var problems []failure.Problem
	addExternal := func(ext *config.External) {
		if prev, exists := ws.Externals[ext.Name]; exists {
			problems = append(problems, failure.Problem{
				Kind:    failure.ProblemDuplicate,
				Targets: []string{"@" + ext.Name},
				Message: fmt.Sprintf("external declared twice, at %s and %s", prev.DeclRange, ext.DeclRange),
			})
			return
		}
		ws.Externals[ext.Name] = ext
	}

	for _, block := range blocks {
		name := block.Labels[0]
		switch block.Type {
		case "http_archive":
			var body httpArchiveBody
			if d := gohcl.DecodeBody(block.Body, nil, &body); d.HasErrors() {
				diags = append(diags, d...)
				continue
			}
			urls := body.URLs
			if body.URL != "" {
				urls = append([]string{body.URL}, urls...)
			}
			if len(urls) == 0 {
				diags = append(diags, diagError(block.DefRange, "Missing archive URL",
					fmt.Sprintf("http_archive %q must set `url` or `urls`.", name)))
				continue
			}
			ext := &config.External{
				Name:        name,
				Kind:        config.KindHTTPArchive,
				URLs:        urls,
				SHA256:      normalizeHash(body.SHA256),
				StripPrefix: strings.Trim(body.StripPrefix, "/"),
				DeclRange:   block.DefRange,
			}
			ext.BuildFile, problems = parseBuildFile(body.BuildFile, name, problems)
			addExternal(ext)
		case "git_repository":
			var body gitRepositoryBody
			if d := gohcl.DecodeBody(block.Body, nil, &body); d.HasErrors() {
				diags = append(diags, d...)
				continue
			}
			ext := &config.External{
				Name:      name,
				Kind:      config.KindGitRepository,
				Remote:    body.Remote,
				Commit:    strings.ToLower(strings.TrimSpace(body.Commit)),
				DeclRange: block.DefRange,
			}
			ext.BuildFile, problems = parseBuildFile(body.BuildFile, name, problems)
			addExternal(ext)
		case "pip_requirements":
			var body pipRequirementsBody
			if d := gohcl.DecodeBody(block.Body, nil, &body); d.HasErrors() {
				diags = append(diags, d...)
				continue
			}
			ext := &config.External{
				Name:      name,
				Kind:      config.KindPipRequirements,
				File:      filepath.ToSlash(filepath.Clean(body.File)),
				SHA256:    normalizeHash(body.SHA256),
				DeclRange: block.DefRange,
			}
			reqs, err := readRequirements(filepath.Join(root, filepath.FromSlash(ext.File)))
			if err != nil {
				diags = append(diags, diagError(block.DefRange, "Invalid requirements file", err.Error()))
				continue
			}
			ext.Requirements = reqs
			logger.Debug("Parsed requirements file.", "external", name, "requirements", len(reqs))
			addExternal(ext)
		case "container_image":
			var body containerImageBody
			if d := gohcl.DecodeBody(block.Body, nil, &body); d.HasErrors() {
				diags = append(diags, d...)
				continue
			}
			if prev, exists := ws.BaseImages[name]; exists {
				problems = append(problems, failure.Problem{
					Kind:    failure.ProblemDuplicate,
					Targets: []string{name},
					Message: fmt.Sprintf("container image declared twice, at %s and %s", prev.DeclRange, block.DefRange),
				})
				continue
			}
			ws.BaseImages[name] = &config.BaseImage{
				Name:       name,
				Registry:   body.Registry,
				Repository: body.Repository,
				Tag:        body.Tag,
				Digest:     body.Digest,
				DeclRange:  block.DefRange,
			}
		}
	}

	return ws, problems, diags
}

// translatePackage converts the blocks of one package manifest into pkg.
func (l *Loader) translatePackage(ctx context.Context, pkg *config.Package, blocks hcl.Blocks, boundary func(string) bool) ([]failure.Problem, hcl.Diagnostics) {
	logger := ctxlog.FromContext(ctx).With("package", "//"+pkg.Path)
	evalCtx := hclutil.EvalContext(pkg.Dir, boundary)

	var problems []failure.Problem
	pkgBlock, diags := hclutil.FindUniqueBlock(blocks, "package")
	if pkgBlock != nil {
		var body packageBody
		if d := gohcl.DecodeBody(pkgBlock.Body, evalCtx, &body); d.HasErrors() {
			return nil, append(diags, d...)
		}
		pkg.DefaultVisibility, problems = parseLabels(body.DefaultVisibility, pkg.Path, problems)
	}

	for _, block := range blocks {
		var target *config.Target
		switch block.Type {
		case "target":
			var body targetBody
			if d := gohcl.DecodeBody(block.Body, evalCtx, &body); d.HasErrors() {
				diags = append(diags, d...)
				continue
			}
			target = &config.Target{
				Label:     label.New(pkg.Path, block.Labels[1]),
				Kind:      block.Labels[0],
				DeclRange: block.DefRange,
			}
			var d hcl.Diagnostics
			target.Srcs, d = cleanRelPaths(body.Srcs, "srcs", block.DefRange)
			diags = append(diags, d...)
			target.Data, d = cleanRelPaths(body.Data, "data", block.DefRange)
			diags = append(diags, d...)
			target.Deps, problems = parseLabels(body.Deps, pkg.Path, problems)
			target.Visibility, problems = parseLabels(body.Visibility, pkg.Path, problems)
		case "image":
			var body imageBody
			if d := gohcl.DecodeBody(block.Body, evalCtx, &body); d.HasErrors() {
				diags = append(diags, d...)
				continue
			}
			target = &config.Target{
				Label:     label.New(pkg.Path, block.Labels[0]),
				Kind:      config.KindImage,
				DeclRange: block.DefRange,
				Image:     &config.Image{Base: body.Base},
			}
			entry, entryProblems := parseLabels([]string{body.Entrypoint}, pkg.Path, nil)
			problems = append(problems, entryProblems...)
			packages, pkgProblems := parseLabels(body.Packages, pkg.Path, nil)
			problems = append(problems, pkgProblems...)
			if len(entry) == 1 {
				target.Image.Entrypoint = entry[0]
			}
			target.Image.Packages = packages
			target.Deps = dedupeLabels(append(append([]label.Label{}, entry...), packages...))
			target.Visibility, problems = parseLabels(body.Visibility, pkg.Path, problems)
		default:
			continue
		}

		if len(target.Visibility) == 0 {
			target.Visibility = pkg.DefaultVisibility
		}
		if err := validateTargetName(target.Label.Name); err != nil {
			diags = append(diags, diagError(block.DefRange, "Invalid target name", err.Error()))
			continue
		}
		logger.Debug("Translated target.", "target", target.Label.String(), "kind", target.Kind, "deps", len(target.Deps))
		pkg.Targets = append(pkg.Targets, target)
	}

	return problems, diags
}

func readRequirements(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reqs, err := pip.ParseRequirements(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return reqs, nil
}

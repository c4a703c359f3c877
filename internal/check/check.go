// Package check validates a loaded workspace before anything is fetched or
// built. Every rule runs even when an earlier one fails so that a single
// invocation reports every problem at once.
package check

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/dag"
	"github.com/vk/buildgrid/internal/failure"
)

var (
	sha256Regex = regexp.MustCompile(`^[0-9a-f]{64}$`)
	commitRegex = regexp.MustCompile(`^[0-9a-f]{40}$`)
	digestRegex = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

// Options tunes the rules applied by Run.
type Options struct {
	// RequireHashes turns a missing archive or requirements digest into a
	// problem instead of a warning.
	RequireHashes bool
}

// Report is the outcome of Run.
type Report struct {
	Problems []failure.Problem
	Warnings []string
}

// OK reports whether no problem was found.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

// Err returns a *failure.GraphError for the collected problems, or nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &failure.GraphError{Problems: r.Problems}
}

// Counts returns the number of problems per kind.
func (r *Report) Counts() map[failure.ProblemKind]int {
	counts := make(map[failure.ProblemKind]int)
	for _, p := range r.Problems {
		counts[p.Kind]++
	}
	return counts
}

// Run builds the target graph for model and applies every validation rule.
func Run(ctx context.Context, model *config.Model, opts Options) (*dag.Graph, *Report) {
	logger := ctxlog.FromContext(ctx)
	report := &Report{}

	g, problems := dag.Build(ctx, model)
	report.Problems = append(report.Problems, problems...)

	cyclic := false
	if err := g.DetectCycles(); err != nil {
		cyclic = true
		var cycleErr *dag.CycleError
		if errors.As(err, &cycleErr) {
			report.Problems = append(report.Problems, failure.Problem{
				Kind:    failure.ProblemCycle,
				Targets: cycleErr.Path,
				Message: "dependency cycle",
			})
		}
	}

	checkVisibility(model, report)
	checkExternals(model, opts, report)
	checkImages(model, g, cyclic, report)
	checkOutputs(model, report)

	sort.SliceStable(report.Problems, func(i, j int) bool {
		return report.Problems[i].Kind < report.Problems[j].Kind
	})
	for _, w := range report.Warnings {
		logger.Warn(w)
	}
	logger.Debug("Validation finished.", "problems", len(report.Problems), "warnings", len(report.Warnings))
	return g, report
}

func checkVisibility(model *config.Model, report *Report) {
	for _, t := range model.SortedTargets() {
		for _, dep := range t.Deps {
			if dep.IsExternal() {
				continue
			}
			target, ok := model.Target(dep)
			if !ok {
				continue
			}
			if !Visible(target, t.Label.Package) {
				report.Problems = append(report.Problems, failure.Problem{
					Kind:    failure.ProblemVisibility,
					Targets: []string{t.Label.String(), dep.String()},
					Message: fmt.Sprintf("%s is not visible from package //%s", dep, t.Label.Package),
				})
			}
		}
	}
}

func checkExternals(model *config.Model, opts Options, report *Report) {
	for _, ext := range model.SortedExternals() {
		name := "@" + ext.Name
		switch ext.Kind {
		case config.KindHTTPArchive, config.KindPipRequirements:
			if ext.SHA256 == "" {
				msg := fmt.Sprintf("external %s has no sha256; its content cannot be verified", name)
				if opts.RequireHashes {
					report.Problems = append(report.Problems, failure.Problem{Kind: failure.ProblemMissingHash, Targets: []string{name}, Message: msg})
				} else {
					report.Warnings = append(report.Warnings, msg)
				}
			} else if !sha256Regex.MatchString(ext.SHA256) {
				report.Problems = append(report.Problems, failure.Problem{
					Kind:    failure.ProblemHashFormat,
					Targets: []string{name},
					Message: fmt.Sprintf("sha256 %q is not 64 hex characters", ext.SHA256),
				})
			}
		case config.KindGitRepository:
			if !commitRegex.MatchString(ext.Commit) {
				report.Problems = append(report.Problems, failure.Problem{
					Kind:    failure.ProblemHashFormat,
					Targets: []string{name},
					Message: fmt.Sprintf("commit %q is not a full 40 character hash", ext.Commit),
				})
			}
		}

		if ext.BuildFile != nil {
			p := filepath.Join(model.Workspace.Root, filepath.FromSlash(ext.BuildFile.Package), filepath.FromSlash(ext.BuildFile.Name))
			if info, err := os.Stat(p); err != nil || info.IsDir() {
				report.Problems = append(report.Problems, failure.Problem{
					Kind:    failure.ProblemDangling,
					Targets: []string{name, ext.BuildFile.String()},
					Message: "build_file does not exist",
				})
			}
		}
	}

	for _, name := range sortedBaseImages(model) {
		base := model.Workspace.BaseImages[name]
		if _, ok := model.Workspace.Externals[name]; ok {
			report.Problems = append(report.Problems, failure.Problem{
				Kind:    failure.ProblemDuplicate,
				Targets: []string{name},
				Message: fmt.Sprintf("%q names both an external and a base image", name),
			})
		}
		if base.Digest != "" && !digestRegex.MatchString(base.Digest) {
			report.Problems = append(report.Problems, failure.Problem{
				Kind:    failure.ProblemHashFormat,
				Targets: []string{name},
				Message: fmt.Sprintf("image digest %q must look like sha256:<64 hex>", base.Digest),
			})
		}
	}
}

func checkImages(model *config.Model, g *dag.Graph, cyclic bool, report *Report) {
	for _, t := range model.SortedTargets() {
		if t.Image == nil {
			continue
		}
		id := t.Label.String()
		if _, ok := model.Workspace.BaseImages[t.Image.Base]; !ok {
			report.Problems = append(report.Problems, failure.Problem{
				Kind:    failure.ProblemDangling,
				Targets: []string{id},
				Message: fmt.Sprintf("unknown base image %q", t.Image.Base),
			})
		}

		entry, ok := model.Target(t.Image.Entrypoint)
		if !ok {
			// Reported as dangling by dag.Build.
			continue
		}
		if !config.IsBinaryKind(entry.Kind) {
			report.Problems = append(report.Problems, failure.Problem{
				Kind:    failure.ProblemImageClosure,
				Targets: []string{id, entry.Label.String()},
				Message: fmt.Sprintf("entrypoint must be a binary target, got kind %q", entry.Kind),
			})
		}
		if cyclic {
			continue
		}

		var roots []string
		for _, p := range t.Image.Packages {
			if g.HasNode(p.String()) {
				roots = append(roots, p.String())
			}
		}
		closure, err := g.Closure(roots...)
		if err != nil {
			continue
		}
		idx := sort.SearchStrings(closure, entry.Label.String())
		if idx >= len(closure) || closure[idx] != entry.Label.String() {
			report.Problems = append(report.Problems, failure.Problem{
				Kind:    failure.ProblemImageClosure,
				Targets: []string{id, entry.Label.String()},
				Message: "entrypoint is not reachable from the packaged targets",
			})
		}
	}
}

// checkOutputs reports targets whose output location, package path joined
// with the target name, collides with another target's.
func checkOutputs(model *config.Model, report *Report) {
	owners := make(map[string]string)
	for _, t := range model.SortedTargets() {
		loc := path.Join(t.Label.Package, t.Label.Name)
		prev, ok := owners[loc]
		if !ok {
			owners[loc] = t.Label.String()
			continue
		}
		report.Problems = append(report.Problems, failure.Problem{
			Kind:    failure.ProblemOutputConflict,
			Targets: []string{prev, t.Label.String()},
			Message: fmt.Sprintf("both targets write their outputs to %s", loc),
		})
	}
}

func sortedBaseImages(model *config.Model) []string {
	names := make([]string, 0, len(model.Workspace.BaseImages))
	for n := range model.Workspace.BaseImages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

package dag

import (
	"context"
	"fmt"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/failure"
)

// Build creates a node for every target in the model and an edge for every
// dependency between main-workspace targets. Dependencies on externals are
// checked against the workspace manifest but do not become nodes. Every
// reference that cannot be resolved is reported as a problem instead of
// aborting, so a single pass surfaces all of them.
func Build(ctx context.Context, model *config.Model) (*Graph, []failure.Problem) {
	logger := ctxlog.FromContext(ctx)
	g := New()
	targets := model.SortedTargets()
	for _, t := range targets {
		g.AddNode(t.Label.String())
	}

	var problems []failure.Problem
	edges := 0
	for _, t := range targets {
		id := t.Label.String()
		for _, dep := range t.Deps {
			depID := dep.String()
			if dep.IsExternal() {
				ext, ok := model.External(dep.Repo)
				switch {
				case !ok:
					problems = append(problems, failure.Problem{
						Kind:    failure.ProblemDangling,
						Targets: []string{id, depID},
						Message: fmt.Sprintf("unknown external repository %q", dep.Repo),
					})
				case !ext.Provides(dep):
					problems = append(problems, failure.Problem{
						Kind:    failure.ProblemDangling,
						Targets: []string{id, depID},
						Message: fmt.Sprintf("external %q does not provide %s", dep.Repo, depID),
					})
				}
				continue
			}

			if !g.HasNode(depID) {
				problems = append(problems, failure.Problem{
					Kind:    failure.ProblemDangling,
					Targets: []string{id, depID},
					Message: "dependency on undeclared target",
				})
				continue
			}
			if depID == id {
				problems = append(problems, failure.Problem{
					Kind:    failure.ProblemCycle,
					Targets: []string{id, id},
					Message: "target depends on itself",
				})
				continue
			}
			if err := g.AddEdge(depID, id); err != nil {
				// Both nodes exist and differ, so this is unreachable.
				panic(err)
			}
			edges++
		}
	}

	logger.Debug("Target graph built.", "nodes", g.Len(), "edges", edges, "problems", len(problems))
	return g, problems
}

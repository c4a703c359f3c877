package app

import (
	"context"
	"fmt"

	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/plan"
)

// Plan prints the build order for the targets matching patterns.
func (a *App) Plan(ctx context.Context, patterns []string) error {
	ctx = a.withLogger(ctx)
	ws, err := a.load(ctx)
	if err != nil {
		return err
	}
	targets, err := plan.ExpandPatterns(ws.model, patterns)
	if err != nil {
		return err
	}
	p, err := plan.New(ws.graph, ws.model, targets)
	if err != nil {
		return err
	}
	return plan.Render(a.outW, a.config.OutputFormat, p)
}

// Query prints the transitive dependencies ("deps") or dependents ("rdeps")
// of a target.
func (a *App) Query(ctx context.Context, kind, target string) error {
	ctx = a.withLogger(ctx)
	ws, err := a.load(ctx)
	if err != nil {
		return err
	}
	l, err := label.Parse(target, "")
	if err != nil {
		return err
	}
	if _, ok := ws.model.Targets[l.String()]; !ok {
		return fmt.Errorf("no such target %s", l)
	}
	res, err := plan.Query(ws.graph, kind, l.String())
	if err != nil {
		return err
	}
	return plan.Render(a.outW, a.config.OutputFormat, res)
}

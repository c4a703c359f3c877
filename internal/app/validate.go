package app

import (
	"context"
	"fmt"
)

// Validate loads the workspace and reports every problem in it.
func (a *App) Validate(ctx context.Context) error {
	ctx = a.withLogger(ctx)
	ws, err := a.load(ctx)
	if err != nil {
		if ws != nil {
			a.logger.Error("Workspace is invalid.", "problems", len(ws.report.Problems))
		}
		return err
	}

	model := ws.model
	fmt.Fprintf(a.outW, "✅ Workspace %q is valid: %d package(s), %d target(s), %d external(s), %d base image(s)\n",
		model.Workspace.Name, len(model.Packages), len(model.Targets), len(model.Workspace.Externals), len(model.Workspace.BaseImages))
	for _, w := range ws.report.Warnings {
		fmt.Fprintf(a.outW, "⚠️  %s\n", w)
	}
	return nil
}

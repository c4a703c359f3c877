package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/executor"
	"github.com/vk/buildgrid/internal/plan"
	"github.com/vk/buildgrid/internal/registry"
)

// Build fetches the externals the selected targets need and then builds the
// targets and their dependencies. No target is built when any fetch fails.
func (a *App) Build(ctx context.Context, patterns []string) (summary *executor.Summary, err error) {
	ctx = a.withLogger(ctx)
	ws, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	requested, err := plan.ExpandPatterns(ws.model, patterns)
	if err != nil {
		return nil, err
	}
	closure, err := ws.graph.Closure(requested...)
	if err != nil {
		return nil, err
	}

	l, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	defer l.Close()

	var exts []*config.External
	for _, name := range plan.ReferencedExternals(ws.model, closure) {
		if ext, ok := ws.model.External(name); ok {
			exts = append(exts, ext)
		}
	}
	inputs := make(map[string]registry.ExternalInput, len(exts))
	if len(exts) > 0 {
		results, err := a.fetchExternals(ctx, l, "fetch", exts)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			inputs[r.External] = registry.ExternalInput{Path: r.Path, Digest: r.Digest}
		}
	}

	invocation, err := l.StartInvocation(ctx, "build")
	if err != nil {
		return nil, err
	}
	ctx, logger := ctxlog.With(ctx, "invocation", invocation)
	defer func() {
		if finishErr := l.FinishInvocation(context.WithoutCancel(ctx), invocation, outcome(err)); finishErr != nil {
			logger.Warn("Failed to record invocation outcome.", "error", finishErr)
		}
	}()

	opts := executor.Options{
		Workers:       a.config.Workers,
		WorkspaceRoot: ws.model.Workspace.Root,
		OutputDir:     a.config.OutputDir,
		Externals:     inputs,
		Recorder:      a.recorder,
	}
	if !a.config.NoCache {
		opts.Ledger = l
	}
	exec, err := executor.New(ws.graph, ws.model, a.registry, closure, opts)
	if err != nil {
		return nil, err
	}

	logger.Info("🚀 Starting concurrent build...", "targets", len(closure), "workers", a.config.Workers)
	summary, err = exec.Run(ctx)
	if summary != nil {
		fmt.Fprintf(a.outW, "%d built, %d cached, %d failed, %d skipped in %s\n",
			summary.Built, summary.Cached, summary.Failed, summary.Skipped, summary.Duration.Round(time.Millisecond))
	}
	return summary, err
}

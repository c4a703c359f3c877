package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/registry"
	"github.com/vk/buildgrid/internal/statestore"
)

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for n := range readyChan {
		workerLogger := logger.With("workerID", workerID, "target", n.id)

		if ctx.Err() != nil {
			e.skip(ctx, n, ctx.Err())
			continue
		}

		workerLogger.Debug("Worker picked up target.")
		e.store.SetStatus(n.target.Label, statestore.StatusRunning)
		start := time.Now()
		out, cached, err := e.execute(ctxlog.WithLogger(ctx, workerLogger), n)
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				e.skip(ctx, n, err)
				continue
			}
			workerLogger.Error("❌ Target failed", "error", err)
			e.store.SetError(n.target.Label, err)
			e.store.SetStatus(n.target.Label, statestore.StatusFailed)
			e.recorder.ObserveTargetDuration(n.target.Kind, metrics.ResultFailed, elapsed)
			cancel()
			e.skipDependents(ctx, n)
			e.wg.Done()
			continue
		}

		e.store.SetOutput(n.target.Label, out)
		if cached {
			e.store.SetStatus(n.target.Label, statestore.StatusCached)
			e.recorder.ObserveTargetDuration(n.target.Kind, metrics.ResultCached, elapsed)
			workerLogger.Info("♻️ Reused cached output", "digest", out.Digest)
		} else {
			e.store.SetStatus(n.target.Label, statestore.StatusBuilt)
			e.recorder.ObserveTargetDuration(n.target.Kind, metrics.ResultBuilt, elapsed)
			workerLogger.Info("✅ Built target", "digest", out.Digest, "duration", elapsed)
		}

		for _, dependent := range n.dependents {
			if dependent.depCount.Add(-1) == 0 {
				workerLogger.Debug("Unlocking dependent target.", "dependent", dependent.id)
				readyChan <- dependent
			}
		}
		e.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// skip marks n and everything downstream of it as skipped.
func (e *Executor) skip(ctx context.Context, n *node, cause error) {
	n.skipOnce.Do(func() {
		ctxlog.FromContext(ctx).Warn("Skipping target.", "target", n.id, "reason", cause)
		e.markSkipped(n, cause)
		e.wg.Done()
		e.skipDependents(ctx, n)
	})
}

// skipDependents recursively marks all downstream targets as skipped and
// releases their WaitGroup slots. A dependent is only ever queued once all of
// its dependencies succeeded, so none of these can be running.
func (e *Executor) skipDependents(ctx context.Context, n *node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.dependents {
		dependent.skipOnce.Do(func() {
			logger.Warn("Skipping dependent target due to upstream failure.", "target", dependent.id, "dependency", n.id)
			e.markSkipped(dependent, fmt.Errorf("skipped due to upstream failure of '%s'", n.id))
			e.wg.Done()
			e.skipDependents(ctx, dependent)
		})
	}
}

func (e *Executor) markSkipped(n *node, cause error) {
	e.store.SetError(n.target.Label, cause)
	e.store.SetStatus(n.target.Label, statestore.StatusSkipped)
	e.recorder.ObserveTargetDuration(n.target.Kind, metrics.ResultSkipped, 0)
}

// execute computes the action key of n and either reuses a cached output or
// runs the registered action. It reports whether the output came from cache.
func (e *Executor) execute(ctx context.Context, n *node) (*registry.Output, bool, error) {
	logger := ctxlog.FromContext(ctx)

	key, err := e.actionKey(ctx, n)
	if err != nil {
		return nil, false, err
	}
	n.actionKey = key

	if out, ok := e.lookupCache(ctx, n); ok {
		return out, true, nil
	}

	action, ok := e.registry.Lookup(n.target.Kind)
	if !ok {
		return nil, false, fmt.Errorf("no action registered for kind %q", n.target.Kind)
	}

	task := &registry.Task{
		Target:        n.target,
		Model:         e.model,
		WorkspaceRoot: e.opts.WorkspaceRoot,
		OutputDir:     e.opts.OutputDir,
		ActionKey:     key,
		Deps:          make(map[string]*registry.Output, len(n.deps)),
		Closure:       n.closure,
		Externals:     e.opts.Externals,
	}
	for _, dep := range n.deps {
		task.Deps[dep.id] = e.store.Output(dep.target.Label)
	}

	logger.Info("▶️ Building target", "kind", n.target.Kind)
	out, err := action.Build(ctx, task)
	if err != nil {
		return nil, false, err
	}
	e.recordCache(ctx, n, out)
	return out, false, nil
}

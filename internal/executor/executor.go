package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/dag"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/ledger"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/registry"
	"github.com/vk/buildgrid/internal/statestore"
)

// Options configures an Executor.
type Options struct {
	Workers       int
	WorkspaceRoot string
	OutputDir     string
	// Externals are the fetched externals available to actions, keyed by name.
	Externals map[string]registry.ExternalInput
	// Ledger, when set, serves as the action cache.
	Ledger   *ledger.Ledger
	Recorder metrics.Recorder
}

// Summary counts the outcome of a run.
type Summary struct {
	Built    int
	Cached   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Total is the number of targets the run covered.
func (s Summary) Total() int {
	return s.Built + s.Cached + s.Failed + s.Skipped
}

type node struct {
	id         string
	target     *config.Target
	deps       []*node
	dependents []*node
	closure    []*config.Target

	depCount  atomic.Int32
	skipOnce  sync.Once
	actionKey string // written by the node's worker before dependents are queued
}

// Executor runs the actions of a fixed set of targets.
type Executor struct {
	model    *config.Model
	registry *registry.Registry
	store    *statestore.Store
	opts     Options
	recorder metrics.Recorder

	nodes map[string]*node
	order []string // topological order of the selected targets
	wg    sync.WaitGroup
}

// New prepares an executor for targets, which must be closed under
// dependencies in g.
func New(g *dag.Graph, model *config.Model, reg *registry.Registry, targets []string, opts Options) (*Executor, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.OutputDir == "" {
		return nil, errors.New("executor: output directory must be set")
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	topo, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	selected := make(map[string]bool, len(targets))
	for _, id := range targets {
		selected[id] = true
	}

	e := &Executor{
		model:    model,
		registry: reg,
		store:    statestore.New(),
		opts:     opts,
		recorder: recorder,
		nodes:    make(map[string]*node, len(targets)),
	}
	position := make(map[string]int, len(topo))
	for i, id := range topo {
		position[id] = i
		if !selected[id] {
			continue
		}
		t := model.Targets[id]
		if t == nil {
			return nil, fmt.Errorf("target %s is not declared", id)
		}
		e.nodes[id] = &node{id: id, target: t}
		e.order = append(e.order, id)
	}
	if len(e.nodes) != len(selected) {
		return nil, errors.New("executor: selected targets are not all in the graph")
	}

	for _, id := range e.order {
		n := e.nodes[id]
		deps, err := g.Dependencies(id)
		if err != nil {
			return nil, err
		}
		for _, depID := range deps {
			dep, ok := e.nodes[depID]
			if !ok {
				return nil, fmt.Errorf("target %s depends on %s, which is not selected", id, depID)
			}
			n.deps = append(n.deps, dep)
			dep.dependents = append(dep.dependents, n)
		}
		n.depCount.Store(int32(len(n.deps)))

		closure, err := g.Closure(id)
		if err != nil {
			return nil, err
		}
		sort.Slice(closure, func(i, j int) bool { return position[closure[i]] < position[closure[j]] })
		for _, cid := range closure {
			if cid != id {
				n.closure = append(n.closure, model.Targets[cid])
			}
		}
	}
	return e, nil
}

// Store exposes the per-target state of the run.
func (e *Executor) Store() *statestore.Store {
	return e.store
}

// Run builds every selected target and returns a summary. It returns a
// *failure.BuildError when any action fails, or the context error when the
// run was canceled before anything failed.
func (e *Executor) Run(ctx context.Context) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	readyChan := make(chan *node, len(e.nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Debug("Initializing executor, finding root targets...")
	roots := 0
	for _, id := range e.order {
		n := e.nodes[id]
		if n.depCount.Load() == 0 {
			readyChan <- n
			roots++
		}
	}
	logger.Debug("Found all root targets.", "count", roots)

	e.wg.Add(len(e.nodes))
	workers := min(e.opts.Workers, max(len(e.nodes), 1))
	logger.Debug("Starting worker pool.", "workers", workers)
	for i := range workers {
		go e.worker(runCtx, readyChan, cancel, i)
	}

	e.wg.Wait()
	close(readyChan)

	summary, err := e.collect(ctx)
	summary.Duration = time.Since(start)
	e.recorder.ObserveBuildDuration(summary.Duration)

	switch {
	case err != nil:
		e.recorder.IncBuildOutcome("failed")
	case ctx.Err() != nil:
		e.recorder.IncBuildOutcome("canceled")
		err = fmt.Errorf("build canceled: %w", ctx.Err())
	default:
		e.recorder.IncBuildOutcome("success")
		logger.Info("🏁 Build finished", "built", summary.Built, "cached", summary.Cached, "duration", summary.Duration)
	}
	return summary, err
}

func (e *Executor) collect(ctx context.Context) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)
	summary := &Summary{}
	var failed, skipped []string
	var rootCause error

	for _, id := range sortedIDs(e.nodes) {
		n := e.nodes[id]
		switch e.store.Status(n.target.Label) {
		case statestore.StatusBuilt:
			summary.Built++
		case statestore.StatusCached:
			summary.Cached++
		case statestore.StatusFailed:
			summary.Failed++
			failed = append(failed, id)
			err := e.store.Error(n.target.Label)
			logger.Error("Target failed.", "target", id, "error", err)
			if rootCause == nil {
				rootCause = err
			}
		default:
			summary.Skipped++
			skipped = append(skipped, id)
		}
	}

	if len(failed) > 0 {
		return summary, &failure.BuildError{Failed: failed, Skipped: skipped, Err: rootCause}
	}
	return summary, nil
}

func sortedIDs(m map[string]*node) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

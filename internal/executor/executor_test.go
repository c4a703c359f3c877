package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/dag"
	"github.com/vk/buildgrid/internal/digest"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/ledger"
	"github.com/vk/buildgrid/internal/registry"
	"github.com/vk/buildgrid/internal/statestore"
	"github.com/vk/buildgrid/internal/testutil"
)

type targetSpec struct {
	label string
	srcs  []string
	deps  []string
}

func newModel(t *testing.T, specs ...targetSpec) (*config.Model, *dag.Graph) {
	t.Helper()
	model := &config.Model{Workspace: &config.Workspace{}, Targets: map[string]*config.Target{}}
	for _, s := range specs {
		target := &config.Target{Label: label.MustParse(s.label), Kind: "fake", Srcs: s.srcs}
		for _, d := range s.deps {
			target.Deps = append(target.Deps, label.MustParse(d))
		}
		model.Targets[target.Label.String()] = target
	}
	g, problems := dag.Build(context.Background(), model)
	require.Empty(t, problems)
	return model, g
}

func all(model *config.Model) []string {
	var out []string
	for id := range model.Targets {
		out = append(out, id)
	}
	return out
}

// recorder is a fake action that writes an output file per target and
// remembers the order it ran in.
type recorder struct {
	mu    sync.Mutex
	order []string
	fail  map[string]error
	dir   string
}

func (r *recorder) Build(ctx context.Context, task *registry.Task) (*registry.Output, error) {
	id := task.Target.Label.String()
	r.mu.Lock()
	r.order = append(r.order, id)
	err := r.fail[id]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for dep, out := range task.Deps {
		if out == nil {
			return nil, errors.New("missing output of " + dep)
		}
	}
	p := task.OutputPath(".out")
	data := []byte(task.ActionKey)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return nil, err
	}
	return &registry.Output{Path: p, Digest: digest.Bytes(data)}, nil
}

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func newRegistry(a registry.Action) *registry.Registry {
	reg := registry.New()
	reg.RegisterKind("fake", a)
	return reg
}

func TestRun_DependencyOrder(t *testing.T) {
	model, g := newModel(t,
		targetSpec{label: "//app:server", deps: []string{"//lib:a", "//lib:b"}},
		targetSpec{label: "//lib:a", deps: []string{"//lib:base"}},
		targetSpec{label: "//lib:b", deps: []string{"//lib:base"}},
		targetSpec{label: "//lib:base"},
	)
	rec := &recorder{}
	ctx, _ := testutil.Context(t)

	e, err := New(g, model, newRegistry(rec), all(model), Options{Workers: 4, WorkspaceRoot: t.TempDir(), OutputDir: t.TempDir()})
	require.NoError(t, err)
	summary, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Built)
	assert.Equal(t, 4, summary.Total())

	order := rec.ran()
	require.Len(t, order, 4, "each target is built exactly once")
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["//lib:base"], pos["//lib:a"])
	assert.Less(t, pos["//lib:base"], pos["//lib:b"])
	assert.Less(t, pos["//lib:a"], pos["//app:server"])
	assert.Less(t, pos["//lib:b"], pos["//app:server"])

	for _, id := range order {
		assert.Equal(t, statestore.StatusBuilt, e.Store().Status(label.MustParse(id)))
	}
}

func TestRun_IndependentTargetsRunConcurrently(t *testing.T) {
	model, g := newModel(t,
		targetSpec{label: "//a:a"},
		targetSpec{label: "//b:b"},
		targetSpec{label: "//c:c"},
	)
	var started sync.WaitGroup
	started.Add(3)
	barrier := registry.ActionFunc(func(ctx context.Context, task *registry.Task) (*registry.Output, error) {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return &registry.Output{Digest: task.Target.Label.String()}, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("targets did not run in parallel")
		}
	})

	ctx, _ := testutil.Context(t)
	e, err := New(g, model, newRegistry(barrier), all(model), Options{Workers: 3, OutputDir: t.TempDir()})
	require.NoError(t, err)
	summary, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Built)
}

func TestRun_FailureSkipsDependents(t *testing.T) {
	model, g := newModel(t,
		targetSpec{label: "//app:server", deps: []string{"//lib:a"}},
		targetSpec{label: "//app:image", deps: []string{"//app:server"}},
		targetSpec{label: "//lib:a"},
	)
	boom := errors.New("compile error")
	rec := &recorder{fail: map[string]error{"//lib:a": boom}}
	ctx, logs := testutil.Context(t)

	e, err := New(g, model, newRegistry(rec), all(model), Options{Workers: 2, OutputDir: t.TempDir()})
	require.NoError(t, err)
	summary, err := e.Run(ctx)

	var buildErr *failure.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"//lib:a"}, buildErr.Failed)
	assert.Equal(t, []string{"//app:image", "//app:server"}, buildErr.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, []string{"//lib:a"}, rec.ran())
	assert.Equal(t, failure.ExitBuild, failure.ExitCode(err))
	assert.Contains(t, logs.String(), "Skipping dependent target due to upstream failure.")
	assert.Equal(t, statestore.StatusSkipped, e.Store().Status(label.MustParse("//app:image")))
}

func TestRun_Canceled(t *testing.T) {
	model, g := newModel(t,
		targetSpec{label: "//a:a"},
		targetSpec{label: "//b:b", deps: []string{"//a:a"}},
	)
	rec := &recorder{}
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	cancel()

	e, err := New(g, model, newRegistry(rec), all(model), Options{Workers: 2, OutputDir: t.TempDir()})
	require.NoError(t, err)
	summary, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, failure.ExitCanceled, failure.ExitCode(err))
	assert.Equal(t, 2, summary.Skipped)
	assert.Empty(t, rec.ran())
}

func TestRun_ActionCache(t *testing.T) {
	root := testutil.NewWorkspace(t, map[string]string{
		"lib/a.txt": "a",
		"app/b.txt": "b",
		"c/c.txt":   "c",
	})
	model, g := newModel(t,
		targetSpec{label: "//lib:a", srcs: []string{"a.txt"}},
		targetSpec{label: "//app:b", srcs: []string{"b.txt"}, deps: []string{"//lib:a"}},
		targetSpec{label: "//c:c", srcs: []string{"c.txt"}},
	)
	l, err := ledger.Open(ledger.InMemory)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	opts := Options{Workers: 2, WorkspaceRoot: root, OutputDir: t.TempDir(), Ledger: l}
	run := func() (*Summary, *recorder) {
		rec := &recorder{}
		ctx, _ := testutil.Context(t)
		e, err := New(g, model, newRegistry(rec), all(model), opts)
		require.NoError(t, err)
		summary, err := e.Run(ctx)
		require.NoError(t, err)
		return summary, rec
	}

	first, _ := run()
	assert.Equal(t, 3, first.Built)

	second, rec := run()
	assert.Equal(t, 3, second.Cached)
	assert.Empty(t, rec.ran())

	t.Run("a changed source rebuilds the target and its dependents", func(t *testing.T) {
		testutil.WriteFiles(t, root, map[string]string{"lib/a.txt": "a2"})
		summary, rec := run()
		assert.Equal(t, 2, summary.Built)
		assert.Equal(t, 1, summary.Cached)
		assert.ElementsMatch(t, []string{"//lib:a", "//app:b"}, rec.ran())
	})

	t.Run("a deleted output is rebuilt", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(opts.OutputDir, "c", "c.out")))
		summary, rec := run()
		assert.Equal(t, 1, summary.Built)
		assert.Equal(t, []string{"//c:c"}, rec.ran())
	})
}

func TestRun_MissingSourceFails(t *testing.T) {
	model, g := newModel(t, targetSpec{label: "//lib:a", srcs: []string{"gone.txt"}})
	ctx, _ := testutil.Context(t)
	e, err := New(g, model, newRegistry(&recorder{}), all(model), Options{WorkspaceRoot: t.TempDir(), OutputDir: t.TempDir()})
	require.NoError(t, err)
	_, err = e.Run(ctx)
	var buildErr *failure.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, err.Error(), "gone.txt")
}

func TestNew_RejectsOpenSelection(t *testing.T) {
	model, g := newModel(t,
		targetSpec{label: "//a:a"},
		targetSpec{label: "//b:b", deps: []string{"//a:a"}},
	)
	_, err := New(g, model, registry.New(), []string{"//b:b"}, Options{OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "not selected")
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/vk/buildgrid/internal/check"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/dag"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/ledger"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	loader   config.Loader
	registry *registry.Registry

	promRegistry *prom.Registry
	recorder     *metrics.PrometheusRecorder

	mu         sync.Mutex
	httpServer *http.Server
	httpAddr   string
}

// NewApp is the constructor for the main application. Command output goes to
// outW and logs to logW. With no modules the core modules are registered.
func NewApp(outW, logW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules), "kinds", reg.Kinds())

	promRegistry := prom.NewRegistry()
	return &App{
		outW:         outW,
		logger:       logger,
		config:       cfg,
		loader:       loader,
		registry:     reg,
		promRegistry: promRegistry,
		recorder:     metrics.NewPrometheusRecorder(promRegistry),
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Config returns the validated configuration.
func (a *App) Config() *Config {
	return a.config
}

func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// workspace is a loaded and validated workspace.
type workspace struct {
	model  *config.Model
	graph  *dag.Graph
	report *check.Report
}

// load reads the workspace and runs every validation rule. Loader problems
// and check problems are reported together in one *failure.GraphError.
func (a *App) load(ctx context.Context) (*workspace, error) {
	logger := ctxlog.FromContext(ctx)

	model, err := a.loader.Load(ctx, a.config.WorkspaceRoot)
	var loadProblems []failure.Problem
	if err != nil {
		var graphErr *failure.GraphError
		if !errors.As(err, &graphErr) || model == nil {
			return nil, fmt.Errorf("failed to load workspace: %w", err)
		}
		loadProblems = graphErr.Problems
	}

	g, report := check.Run(ctx, model, check.Options{RequireHashes: a.config.RequireHashes})
	report.Problems = append(loadProblems, report.Problems...)
	ws := &workspace{model: model, graph: g, report: report}

	counts := report.Counts()
	for _, kind := range failure.ProblemKinds {
		a.recorder.SetValidationProblems(string(kind), counts[kind])
	}
	if err := report.Err(); err != nil {
		return ws, err
	}
	if err := a.registry.Validate(ctx, model); err != nil {
		return ws, err
	}
	logger.Debug("Workspace loaded and validated.", "targets", len(model.Targets), "warnings", len(report.Warnings))
	return ws, nil
}

// openLedger opens the ledger in the cache directory.
func (a *App) openLedger() (*ledger.Ledger, error) {
	if err := os.MkdirAll(a.config.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return ledger.Open(filepath.Join(a.config.CacheDir, "ledger.db"))
}

// outcome is the ledger outcome recorded for err.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(failure.Classify(err))
}

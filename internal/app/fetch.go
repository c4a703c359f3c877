package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/failure"
	"github.com/vk/buildgrid/internal/fetch"
	"github.com/vk/buildgrid/internal/ledger"
	"github.com/vk/buildgrid/internal/plan"
)

// fetchRow is one line of the fetch report.
type fetchRow struct {
	External string `yaml:"external" json:"external"`
	Kind     string `yaml:"kind" json:"kind"`
	Digest   string `yaml:"digest" json:"digest"`
	Verified bool   `yaml:"verified" json:"verified"`
	Cached   bool   `yaml:"cached" json:"cached"`
	Path     string `yaml:"path" json:"path"`
}

// Fetch retrieves and verifies the named externals, or all of them.
func (a *App) Fetch(ctx context.Context, names []string) ([]*fetch.Result, error) {
	ctx = a.withLogger(ctx)
	ws, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	exts, err := selectExternals(ws.model, names)
	if err != nil {
		return nil, err
	}

	l, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	defer l.Close()

	results, err := a.fetchExternals(ctx, l, "fetch", exts)
	rows := make([]fetchRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, fetchRow{
			External: r.External, Kind: string(r.Kind), Digest: r.Digest,
			Verified: r.Verified, Cached: r.Cached, Path: r.Path,
		})
	}
	if renderErr := plan.Render(a.outW, a.config.OutputFormat, rows); renderErr != nil && err == nil {
		err = renderErr
	}
	return results, err
}

func selectExternals(model *config.Model, names []string) ([]*config.External, error) {
	if len(names) == 0 {
		return model.SortedExternals(), nil
	}
	out := make([]*config.External, 0, len(names))
	for _, n := range names {
		ext, ok := model.External(n)
		if !ok {
			return nil, fmt.Errorf("unknown external %q", n)
		}
		out = append(out, ext)
	}
	return out, nil
}

// fetchExternals fetches exts under a new ledger invocation.
func (a *App) fetchExternals(ctx context.Context, l *ledger.Ledger, command string, exts []*config.External) (results []*fetch.Result, err error) {
	invocation, err := l.StartInvocation(ctx, command)
	if err != nil {
		return nil, err
	}
	ctx, logger := ctxlog.With(ctx, "invocation", invocation)
	defer func() {
		if finishErr := l.FinishInvocation(context.WithoutCancel(ctx), invocation, outcome(err)); finishErr != nil {
			logger.Warn("Failed to record invocation outcome.", "error", finishErr)
		}
	}()

	results, err = a.fetchWithLedger(ctx, l, invocation, exts)
	return results, err
}

func (a *App) fetchWithLedger(ctx context.Context, l *ledger.Ledger, invocation string, exts []*config.External) ([]*fetch.Result, error) {
	logger := ctxlog.FromContext(ctx)
	if len(exts) == 0 {
		logger.Debug("No externals to fetch.")
		return nil, nil
	}

	f, err := fetch.New(fetch.Options{
		CacheDir:      a.config.CacheDir,
		WorkspaceRoot: a.config.WorkspaceRoot,
		Concurrency:   a.config.FetchConcurrency,
		Retry:         a.config.Retry,
		Recorder:      a.recorder,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("📥 Fetching externals", "count", len(exts))
	results, err := f.FetchAll(ctx, exts)
	for _, r := range results {
		recErr := l.RecordFetch(ctx, invocation, ledger.FetchRecord{
			External: r.External, Kind: string(r.Kind), Digest: r.Digest, Verified: r.Verified, Cached: r.Cached,
		})
		if recErr != nil {
			logger.Warn("Failed to record fetch.", "external", r.External, "error", recErr)
		}
	}

	var integrityErr *failure.IntegrityError
	if errors.As(err, &integrityErr) {
		logger.Error("🛑 Integrity check failed, nothing will be built.", "external", integrityErr.External)
	}
	return results, err
}

package app

import (
	"context"
	"errors"

	"github.com/vk/buildgrid/internal/daemon"
)

// Serve exposes /health and /metrics and re-verifies every external on the
// configured interval until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	ctx = a.withLogger(ctx)

	scheduler, err := daemon.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := scheduler.ScheduleVerification(ctx, a.config.VerifyInterval, a.verifyExternals); err != nil {
		return err
	}
	if err := a.startHealthcheckServer(ctx, a.config.HealthcheckPort); err != nil {
		return err
	}

	scheduler.Start(ctx)
	<-ctx.Done()
	a.logger.Info("Shutdown signal received, stopping...")

	return errors.Join(scheduler.Stop(ctx), a.closeHealthCheckServer(ctx))
}

// verifyExternals reloads the workspace and fetches every external, which
// re-checks the digest of each cached archive.
func (a *App) verifyExternals(ctx context.Context) error {
	ws, err := a.load(ctx)
	if err != nil {
		return err
	}
	l, err := a.openLedger()
	if err != nil {
		return err
	}
	defer l.Close()
	_, err = a.fetchExternals(ctx, l, "verify", ws.model.SortedExternals())
	return err
}

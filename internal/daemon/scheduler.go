// Package daemon runs periodic background work for the serve command.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vk/buildgrid/internal/ctxlog"
)

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// ScheduleVerification runs verify every interval, starting immediately.
// Runs never overlap. It returns the job ID.
func (s *Scheduler) ScheduleVerification(ctx context.Context, interval time.Duration, verify func(context.Context) error) (string, error) {
	if interval <= 0 {
		return "", errors.New("verification interval must be positive")
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { runVerification(ctx, verify) }),
		gocron.WithName("verify-externals"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create verification job: %w", err)
	}
	return job.ID().String(), nil
}

func runVerification(ctx context.Context, verify func(context.Context) error) {
	logger := ctxlog.FromContext(ctx)
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	logger.Info("🔍 Re-verifying externals")
	if err := verify(ctx); err != nil {
		logger.Error("External verification failed.", "error", err, "duration", time.Since(start))
		return
	}
	logger.Info("External verification passed.", "duration", time.Since(start))
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	ctxlog.FromContext(ctx).Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	ctxlog.FromContext(ctx).Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

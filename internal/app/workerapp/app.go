package workerapp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/app/core"
	"github.com/funnytutor6/tutorconnect/internal/config"
	"github.com/funnytutor6/tutorconnect/internal/jobs/sweep"
)

type App struct {
	cfg       config.Config
	logger    *zap.Logger
	core      *core.Core
	sweep     *sweep.Job
	scheduler *Scheduler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	c, err := core.Build(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}

	job := sweep.New(c.Payments, cfg.Sweep.Timeout, log.Named("sweep"))
	job.AttachLocker(c.Locks)

	scheduler := NewScheduler(log.Named("cron"))
	if err := scheduler.Add("payment_sweep", cfg.Sweep.Schedule, job.Tick); err != nil {
		_ = c.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		logger:    log,
		core:      c,
		sweep:     job,
		scheduler: scheduler,
	}, nil
}

// Run sweeps once immediately, then on schedule until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.sweep.Run(ctx); err != nil {
		a.logger.Warn("initial payment sweep failed", zap.Error(err))
	}

	a.scheduler.Start()
	a.logger.Info("worker started", zap.String("sweep_schedule", a.cfg.Sweep.Schedule))
	<-ctx.Done()
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	select {
	case <-a.scheduler.Stop().Done():
	case <-ctx.Done():
		a.logger.Warn("worker shutdown timed out waiting for running jobs")
	}
	return a.core.Close()
}

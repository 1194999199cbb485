package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/services/payments"
)

// lockKey serializes sweeps across worker replicas.
const lockKey = "sweep:payments"

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (payments.SweepResult, error)
}

type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Job struct {
	sweeper Sweeper
	locker  Locker
	timeout time.Duration
	running atomic.Bool
	now     func() time.Time
	logger  *zap.Logger
}

func New(sweeper Sweeper, timeout time.Duration, logger *zap.Logger) *Job {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		sweeper: sweeper,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// AttachLocker makes the job skip a run while another replica holds the sweep lock.
func (j *Job) AttachLocker(locker Locker) {
	j.locker = locker
}

func (j *Job) Run(ctx context.Context) (payments.SweepResult, error) {
	if j.sweeper == nil {
		return payments.SweepResult{}, fmt.Errorf("sweeper is nil")
	}
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Debug("payment sweep already running")
		return payments.SweepResult{}, nil
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	if j.locker != nil {
		unlock, err := j.locker.Lock(ctx, lockKey)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return payments.SweepResult{}, err
			}
			j.logger.Info("payment sweep skipped, lock held elsewhere", zap.Error(err))
			return payments.SweepResult{}, nil
		}
		defer unlock()
	}

	res, err := j.sweeper.Sweep(ctx, j.now().UTC())
	if err != nil {
		return res, fmt.Errorf("sweep stale payments: %w", err)
	}
	if res.Checked > 0 {
		j.logger.Info("payment sweep completed",
			zap.Int("checked", res.Checked),
			zap.Int("confirmed", res.Confirmed),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

// Tick adapts Run to a cron callback.
func (j *Job) Tick() {
	if _, err := j.Run(context.Background()); err != nil {
		j.logger.Error("payment sweep failed", zap.Error(err))
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/bensco/susu/internal/jobs"
	"github.com/bensco/susu/internal/shared"
)

const cycleSweepJob = "cycle_sweep"

// CycleSweeper closes expired cycles.
type CycleSweeper interface {
	SweepExpiredCycles(ctx context.Context) (int, error)
}

// SweepLocker hands out the cross-worker sweep lease.
type SweepLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*shared.Lease, error)
}

// CycleSweepJob runs the expired-cycle sweep under a Redis lease.
type CycleSweepJob struct {
	Sweeper CycleSweeper
	Locker  SweepLocker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCycleSweepJob constructs the job handler.
func NewCycleSweepJob(sweeper CycleSweeper, locker SweepLocker, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *CycleSweepJob {
	return &CycleSweepJob{
		Sweeper: sweeper,
		Locker:  locker,
		LockTTL: lockTTL,
		Logger:  logger,
		Metrics: metrics,
	}
}

// Handle executes one sweep. A sweep already running elsewhere is not an error.
func (j *CycleSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("cycle sweep: handler not configured")
	}
	var payload CycleSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("cycle sweep: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(cycleSweepJob)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger().With(slog.String("trigger", payload.Trigger))

	if j.Locker != nil {
		lease, err := j.Locker.Acquire(ctx, shared.SweepLockKey, j.lockTTL())
		if errors.Is(err, shared.ErrLockHeld) {
			logger.Info("cycle sweep already running, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("cycle sweep release lock", slog.Any("error", err))
			}
		}()
	}

	logger.Info("starting cycle sweep")
	closed, err := j.Sweeper.SweepExpiredCycles(ctx)
	j.Metrics.AddSweptCycles(closed)
	if err != nil {
		logger.Error("cycle sweep failed", slog.Int("closed", closed), slog.Any("error", err))
		return err
	}
	logger.Info("cycle sweep completed", slog.Int("closed", closed))
	return nil
}

func (j *CycleSweepJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return 10 * time.Minute
}

func (j *CycleSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

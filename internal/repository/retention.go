package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner is a snapshot store that can drop old snapshots.
type Pruner interface {
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// RetentionJob periodically trims every room to its newest Keep snapshots.
type RetentionJob struct {
	pruner   Pruner
	keep     int
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
	cron     *cron.Cron
}

func NewRetentionJob(pruner Pruner, keep int, schedule string, logger *zap.Logger) *RetentionJob {
	return &RetentionJob{
		pruner:   pruner,
		keep:     keep,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules the job. A keep below 1 disables retention.
func (j *RetentionJob) Start() error {
	if j.keep < 1 {
		j.logger.Info("snapshot retention disabled")
		return nil
	}

	if _, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error("snapshot retention failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retention job: %w", err)
	}

	j.cron.Start()
	j.logger.Info("🧹 snapshot retention scheduled",
		zap.String("schedule", j.schedule),
		zap.Int("keep", j.keep),
	)
	return nil
}

// Stop stops the scheduler and waits for a running prune to finish.
func (j *RetentionJob) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce prunes immediately.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	deleted, err := j.pruner.PruneSnapshots(ctx, j.keep)
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		j.logger.Info("pruned old snapshots", zap.Int64("deleted", deleted), zap.Int("keep", j.keep))
	}
	return deleted, nil
}

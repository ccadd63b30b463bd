package cron

import (
	"context"
	"log/slog"
)

// DefaultExpirySchedule runs the sweep daily at 03:00.
const DefaultExpirySchedule = "0 3 * * *"

// Sweeper removes expired user memories and reports how many were removed.
// service.Service satisfies it.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// ExpiryJob runs the memory expiry sweep.
type ExpiryJob struct {
	Sweeper      Sweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultExpirySchedule
}

var _ Job = (*ExpiryJob)(nil)

func (j *ExpiryJob) Name() string { return "memory_expiry" }

func (j *ExpiryJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultExpirySchedule
}

func (j *ExpiryJob) Run(ctx context.Context) error {
	removed, err := j.Sweeper.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("memory expiry sweep finished", "removed", removed)
	return nil
}

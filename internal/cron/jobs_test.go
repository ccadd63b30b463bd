package cron

import (
	"context"
	"errors"
	"testing"
)

type fakeSweeper struct {
	removed int
	err     error
	calls   int
}

func (f *fakeSweeper) CleanupExpired(context.Context) (int, error) {
	f.calls++
	return f.removed, f.err
}

func TestExpiryJob(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{removed: 3}
	job := &ExpiryJob{Sweeper: sweeper}
	if job.Name() != "memory_expiry" {
		t.Fatalf("Name() = %q", job.Name())
	}
	if job.Schedule() != DefaultExpirySchedule {
		t.Fatalf("Schedule() = %q, want default", job.Schedule())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("sweeper calls = %d, want 1", sweeper.calls)
	}

	job.ScheduleExpr = "*/15 * * * *"
	if job.Schedule() != "*/15 * * * *" {
		t.Fatalf("Schedule() = %q, want override", job.Schedule())
	}
}

func TestExpiryJobPropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down")
	job := &ExpiryJob{Sweeper: &fakeSweeper{err: boom}}
	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
}

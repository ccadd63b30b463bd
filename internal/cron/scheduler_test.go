package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type simpleJob struct {
	name     string
	schedule string
	runFunc  func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

func (j *simpleJob) Name() string     { return j.name }
func (j *simpleJob) Schedule() string { return j.schedule }
func (j *simpleJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.runFunc != nil {
		return j.runFunc(ctx)
	}
	return nil
}

func (j *simpleJob) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func TestSchedulerRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	if err := s.RegisterJob(&simpleJob{name: "test", schedule: "* * * * *"}); err != nil {
		t.Fatalf("RegisterJob() error = %v", err)
	}
	if err := s.RegisterJob(&simpleJob{name: "test", schedule: "* * * * *"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil)
	_ = s.RegisterJob(&simpleJob{name: "bad", schedule: "every tuesday"})
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := ValidateSchedule("*/5 * * * *"); err != nil {
		t.Fatalf("ValidateSchedule() error = %v", err)
	}
	if err := ValidateSchedule("* * * * * *"); err == nil {
		t.Fatal("six-field expression should be rejected")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil)
	_ = s.RegisterJob(&simpleJob{name: "noop", schedule: "* * * * *"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	if err := NewScheduler(nil).Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSchedulerRunNow(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil)
	failing := &simpleJob{name: "failing", schedule: "0 0 1 1 *", runFunc: func(context.Context) error {
		return errors.New("boom")
	}}
	_ = s.RegisterJob(failing)

	if !s.RunNow(context.Background(), "failing") {
		t.Fatal("RunNow() = false, want true")
	}
	if failing.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", failing.callCount())
	}
	if s.RunNow(context.Background(), "missing") {
		t.Fatal("RunNow(missing) = true, want false")
	}
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	s := NewScheduler(nil)
	slow := &simpleJob{name: "slow", schedule: "0 0 1 1 *", runFunc: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	_ = s.RegisterJob(slow)

	done := make(chan bool)
	go func() { done <- s.RunNow(context.Background(), "slow") }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job did not start")
	}
	if s.RunNow(context.Background(), "slow") {
		t.Fatal("overlapping RunNow() = true, want skip")
	}
	close(release)
	if !<-done {
		t.Fatal("first RunNow() = false, want true")
	}
	if slow.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", slow.callCount())
	}
}

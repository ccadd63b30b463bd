package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a valid 5-field cron expression.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Scheduler runs registered jobs on their cron schedules. A tick that fires
// while the previous run of the same job is still going is skipped.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	cancel context.CancelFunc
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		locks:  make(map[string]*sync.Mutex),
		logger: logger.With("component", "cron"),
	}
}

// RegisterJob adds j. Jobs must be registered before Start.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.locks[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start validates every schedule and begins running jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithParser(scheduleParser))

	for _, job := range s.jobs {
		job := job
		if _, err := c.AddFunc(job.Schedule(), func() { s.run(ctx, job) }); err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", job.Name(), err)
		}
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// RunNow runs the named job once, outside its schedule. It returns false if
// the job is unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var job Job
	for _, j := range s.jobs {
		if j.Name() == name {
			job = j
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return false
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) bool {
	lock := s.locks[job.Name()]
	if !lock.TryLock() {
		s.logger.Warn("job still running, skipping tick", "job", job.Name())
		return false
	}
	defer lock.Unlock()

	s.logger.Debug("job started", "job", job.Name())
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", job.Name(), "error", err)
	} else {
		s.logger.Debug("job completed", "job", job.Name())
	}
	return true
}

// Stop cancels running jobs and waits for them to return, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: stop: %w", ctx.Err())
	}
}

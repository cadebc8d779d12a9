// Package scheduler runs background maintenance jobs of the gradebook, such
// as the periodic full ranking rebuild, on top of gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context is cancelled when the scheduler is
	// stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("scheduler: job cannot be nil")

	// ErrJobAlreadyExists is returned when a job name is registered twice.
	ErrJobAlreadyExists = errors.New("scheduler: job already exists")

	// ErrJobNotFound is returned by RunNow for unknown names.
	ErrJobNotFound = errors.New("scheduler: job not found")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *slog.Logger

	// Timezone for cron expressions (default: UTC).
	Timezone *time.Location

	// JobTimeout bounds a single run; zero means no limit.
	JobTimeout time.Duration

	// RunOnStart runs interval jobs immediately when the scheduler starts
	// instead of waiting one interval.
	RunOnStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger:     slog.Default(),
		Timezone:   time.UTC,
		JobTimeout: 10 * time.Minute,
		RunOnStart: true,
	}
}

// Scheduler manages and executes scheduled jobs. A job never overlaps with
// its own previous run.
type Scheduler struct {
	cron   *gocron.Scheduler
	config Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	jobs     map[string]Job
	lastRuns map[string]JobResult
}

// New creates a new Scheduler.
func New(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}

	cron := gocron.NewScheduler(config.Timezone)
	cron.SingletonModeAll()
	if !config.RunOnStart {
		cron.WaitForScheduleAll()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron,
		config:   config,
		logger:   config.Logger.With("component", "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]Job),
		lastRuns: make(map[string]JobResult),
	}
}

// Every registers a job that runs at a fixed interval.
func (s *Scheduler) Every(job Job, interval time.Duration) error {
	if err := s.add(job); err != nil {
		return err
	}
	if _, err := s.cron.Every(interval).Name(job.Name()).Do(s.execute, job); err != nil {
		s.remove(job.Name())
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	s.logger.Info("job registered", "job", job.Name(), "every", interval.String(), "description", job.Description())
	return nil
}

// Cron registers a job with a standard 5-field cron expression.
func (s *Scheduler) Cron(job Job, expr string) error {
	if err := s.add(job); err != nil {
		return err
	}
	if _, err := s.cron.Cron(expr).Name(job.Name()).Do(s.execute, job); err != nil {
		s.remove(job.Name())
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	s.logger.Info("job registered", "job", job.Name(), "cron", expr, "description", job.Description())
	return nil
}

func (s *Scheduler) add(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, job.Name())
	}
	s.jobs[job.Name()] = job
	return nil
}

func (s *Scheduler) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.logger.Info("scheduler started", "jobs", s.cron.Len())
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	result := s.run(ctx, job)
	return result, result.Error
}

// LastResult returns the last recorded run of a job.
func (s *Scheduler) LastResult(name string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[name]
	return r, ok
}

// execute is the gocron entry point.
func (s *Scheduler) execute(job Job) {
	s.run(s.ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) JobResult {
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	name := job.Name()
	startedAt := time.Now()
	s.logger.Info("job started", "job", name)

	err := job.Run(ctx)
	completedAt := time.Now()

	result := JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Success:     err == nil,
		Error:       err,
	}

	s.mu.Lock()
	s.lastRuns[name] = result
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", result.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", name, "duration", result.Duration.String())
	}
	return result
}

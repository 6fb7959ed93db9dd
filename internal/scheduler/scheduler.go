package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aloecraft/aloegraph/pkg/graph"
)

// GraphRunner is the interface the scheduler uses to launch runs.
// Satisfied by *graph.Engine.
type GraphRunner interface {
	Invoke(ctx context.Context, st *graph.State) (*graph.State, error)
	Graph() string
}

// Job is a cron-driven fresh invocation of a graph. Vars seeds each run's
// payload; every tick starts a new run, never a resume.
type Job struct {
	ID             string
	CronExpression string
	Runner         GraphRunner
	Vars           map[string]any
	Enabled        bool

	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string
}

// RunCallback receives the outcome of each scheduled run.
type RunCallback func(jobID string, st *graph.State, err error)

// Scheduler holds an in-memory job table and runs due jobs on a ticker.
type Scheduler struct {
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	onResult RunCallback

	jobsMu sync.Mutex
	jobs   map[string]*Job

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval overrides the default 60s ticker.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRunCallback registers a callback observing every run outcome.
func WithRunCallback(cb RunCallback) SchedulerOption {
	return func(s *Scheduler) { s.onResult = cb }
}

// NewScheduler creates a scheduler. Jobs are added with AddJob.
func NewScheduler(logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: 60 * time.Second,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob validates and registers a job. A nil NextRunAt is computed from the
// cron expression; an overwritten ID replaces the previous job.
func (s *Scheduler) AddJob(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("scheduler: job ID is required")
	}
	if job.Runner == nil {
		return fmt.Errorf("scheduler: job %q has no runner", job.ID)
	}
	if _, err := s.parser.Parse(job.CronExpression); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", job.CronExpression, err)
	}
	if job.NextRunAt == nil {
		next, err := s.CalculateNextRun(job.CronExpression, time.Now().UTC())
		if err != nil {
			return err
		}
		job.NextRunAt = &next
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// RemoveJob drops a job from the table.
func (s *Scheduler) RemoveJob(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, id)
}

// SetEnabled toggles a job without removing it.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("scheduler: job %q is not registered", id)
	}
	job.Enabled = enabled
	return nil
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job that is due. A nil NextRunAt counts as overdue.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, job := range s.Jobs() {
		if !job.Enabled {
			continue
		}
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(job.ID)
	}
}

// runJob launches a fresh run for the job and records the outcome.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("graph", job.Runner.Graph()),
	)

	st, err := job.Runner.Invoke(ctx, graph.NewState(copyVars(job.Vars)))
	status := "success"
	switch {
	case err != nil:
		status = "error"
		s.logger.Error("scheduled run failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	case st.Suspended():
		// Unattended runs have no one to resume them; surface it.
		status = "suspended"
		s.logger.Warn("scheduled run suspended",
			slog.String("job_id", job.ID),
			slog.String("edge", st.PendingInterrupt),
		)
	}

	if s.onResult != nil {
		s.onResult(job.ID, st, err)
	}
	return s.updateJobStatus(job.ID, now, status)
}

func (s *Scheduler) updateJobStatus(id string, now time.Time, status string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil // removed while running
	}

	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", id, err)
	}
	runAt := now
	job.LastRunAt = &runAt
	job.NextRunAt = &nextRun
	job.LastRunStatus = status
	return nil
}

// tryAcquire returns true and marks the job in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// release removes the job from the in-flight set.
func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func copyVars(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	cp := make(map[string]any, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return cp
}

// Package scheduler triggers recurring runs of registered graphs on cron
// schedules. Jobs live in memory; the loop ticks once a minute, runs every
// due job, and advances its next-run timestamp.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weftflow/weft/pkg/schema"
)

// GraphRunner is the interface the scheduler uses to launch a run.
// Satisfied by the engine facade (avoids import cycle).
type GraphRunner interface {
	RunGraph(ctx context.Context, g *schema.Graph, params map[string]any) error
}

// Job is one recurring execution of a graph.
type Job struct {
	ID            string
	Graph         *schema.Graph
	CronExpr      string
	Params        map[string]any
	Enabled       bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string // "success" or "error"
}

// Scheduler owns the job table and the background trigger loop.
type Scheduler struct {
	runner   GraphRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a stopped scheduler. Add jobs, then Start.
func NewScheduler(runner GraphRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: 60 * time.Second,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job and computes its first due time. The cron expression
// is validated here so a bad schedule fails at registration, not at tick.
func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("scheduled job needs an id")
	}
	if job.Graph == nil {
		return fmt.Errorf("scheduled job %q has no graph", job.ID)
	}
	next, err := s.NextRun(job.CronExpr, time.Now().UTC())
	if err != nil {
		return err
	}
	job.NextRunAt = &next

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// Remove deletes a job. Unknown ids are a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// SetEnabled flips a job's enabled flag.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job not found: %s", id)
	}
	job.Enabled = enabled
	return nil
}

// Jobs returns a snapshot of the job table.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
	}
	return out
}

// Start launches the background trigger loop.
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

// tick runs every enabled job whose due time has passed. A job missed while
// the process was down is simply due on the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, job := range s.due(now) {
		if !s.tryAcquire(job.ID) {
			continue // still running from a previous tick
		}
		s.runJob(ctx, job, now)
		s.release(job.ID)
	}
}

func (s *Scheduler) due(now time.Time) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.Enabled && (job.NextRunAt == nil || !job.NextRunAt.After(now)) {
			out = append(out, job)
		}
	}
	return out
}

// runJob launches one run and advances the job's timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("graph", job.Graph.Name),
	)

	status := "success"
	if err := s.runner.RunGraph(ctx, job.Graph, job.Params); err != nil {
		status = "error"
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	next, err := s.NextRun(job.CronExpr, now)
	if err != nil {
		s.logger.Error("failed to compute next run",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if live, ok := s.jobs[job.ID]; ok {
		runAt := now
		live.LastRunAt = &runAt
		live.NextRunAt = &next
		live.LastRunStatus = status
	}
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

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// NextRun computes the next due time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the trigger loop.
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

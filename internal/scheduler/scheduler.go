// Package scheduler runs named jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled task.
type Job func(ctx context.Context) error

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// Scheduler manages periodic tasks. Each run of a job gets its own timeout
// context; a job never overlaps with itself.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[string]entry
}

// New creates a scheduler in the given timezone. timeout bounds every run.
func New(timezone string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: timeout,
		logger:  logger.With("component", "scheduler"),
		jobs:    make(map[string]entry),
	}, nil
}

// AddJob schedules job under name. schedule is a five field cron spec or a
// descriptor such as "@every 5m". An existing job of the same name is replaced.
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(name, job); err != nil {
			s.logger.Error("job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	s.jobs[name] = entry{id: id, schedule: schedule}
	s.mu.Unlock()

	s.logger.Info("job added", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.logger.Info("job removed", "job", name)
	}
}

// RunNow executes job immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Debug("job started", "job", name)
	start := time.Now()
	if err := job(ctx); err != nil {
		return err
	}
	s.logger.Debug("job completed", "job", name, "duration", time.Since(start))
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// ListJobs returns the scheduled jobs with their next and previous runs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		for _, ce := range entries {
			if ce.ID == e.id {
				infos = append(infos, JobInfo{
					Name:     name,
					Schedule: e.schedule,
					NextRun:  ce.Next,
					LastRun:  ce.Prev,
				})
				break
			}
		}
	}
	return infos
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"github.com/timmy/cattube/internal/logger"
)

// JobTimeout bounds a single scheduled run.
const JobTimeout = 10 * time.Minute

// Job is a named scheduled task.
type Job struct {
	Name     string
	Schedule string // five field cron expression; empty disables the job
	Run      func(ctx context.Context) error
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	ctab *crontab.Crontab
	jobs []Job
}

// New creates a scheduler for jobs.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{ctab: crontab.New(), jobs: jobs}
}

// Run registers every job and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "scheduler")
	for _, job := range s.jobs {
		if job.Schedule == "" {
			logger.CtxInfo(ctx, "Scheduled job %s disabled", job.Name)
			continue
		}
		job := job
		if err := s.ctab.AddJob(job.Schedule, func() { s.runJob(ctx, job) }); err != nil {
			s.ctab.Shutdown()
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
		}
		logger.CtxInfo(ctx, "Scheduled job %s: %s", job.Name, job.Schedule)
	}

	<-ctx.Done()
	s.ctab.Shutdown()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(logger.WithField(ctx, "job", job.Name), JobTimeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(jobCtx); err != nil {
		logger.FromContext(jobCtx).WithError(err).Error("Scheduled job failed")
		return
	}
	logger.With(logger.Fields{}).WithSince(start).Info(jobCtx, "Scheduled job finished")
}

// Package scheduler runs the periodic jobs of `serve`: calendar refresh and
// the optional spoken briefing.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "lcarsvoice/internal/log"
)

// Job is a scheduled task. It receives the scheduler's context.
type Job func(ctx context.Context) error

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// New returns a scheduler whose jobs never overlap with their own previous
// run.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:  context.Background(),
	}
}

// Add schedules job under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		appLog.Info("scheduled job disabled", "job", name)
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		if err := job(s.ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", name)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %s: bad schedule %q: %w", name, spec, err)
	}
	appLog.Info("scheduled job", "job", name, "spec", spec)
	return nil
}

// Run starts the jobs and blocks until ctx is done, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	s.Stop()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

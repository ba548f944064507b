package scheduler

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"selfpm/pkg/jobs"
)

// CronScheduler runs entries in process. A run that is still going when its
// next activation arrives makes that activation a no-op.
type CronScheduler struct {
	cron   *cron.Cron
	logger *log.Logger
	ctx    context.Context
}

// NewCron schedules entries on a robfig/cron runner. Nothing runs until
// Start.
func NewCron(entries []Entry, logger *log.Logger) *CronScheduler {
	if logger == nil {
		logger = log.Default()
	}
	cronLogger := cron.PrintfLogger(logger)
	s := &CronScheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
	for _, entry := range entries {
		job := entry.Job
		s.cron.Schedule(entry.Schedule, cron.FuncJob(func() {
			s.run(job)
		}))
	}
	return s
}

func (s *CronScheduler) run(job jobs.Job) {
	s.logger.Printf("job %s started", job.Name)
	report := job.Run(s.ctx)
	if err := report.Err(); err != nil {
		s.logger.Printf("job %s finished with %d failures", job.Name, len(report.Failures))
	}
}

// Start begins running entries; ctx is handed to every job run.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	return nil
}

// Stop prevents new runs and waits for running ones until ctx expires.
func (s *CronScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

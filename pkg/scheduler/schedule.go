// Package scheduler runs the reconciliation jobs on their timers, either
// in process with robfig/cron or as River periodic jobs on Postgres.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"selfpm/internal"
	"selfpm/pkg/jobs"
)

// Schedule yields the next activation after t. cron.Schedule and
// river.PeriodicSchedule share this shape.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Runner is a started scheduler backend.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Launch starts r. When Start fails r is stopped, so a backend holding a
// connection pool releases it.
func Launch(ctx context.Context, r Runner) error {
	if err := r.Start(ctx); err != nil {
		return errors.Join(err, r.Stop(ctx))
	}
	return nil
}

// Entry binds a job to its schedule.
type Entry struct {
	Job      jobs.Job
	Schedule Schedule
}

// intervalSchedule fires after an initial delay (immediately when zero) and
// then every interval.
type intervalSchedule struct {
	mu     sync.Mutex
	every  time.Duration
	delay  time.Duration
	primed bool
}

// Every returns a fixed-rate schedule whose first activation is delay after
// the first call to Next.
func Every(every, delay time.Duration) Schedule {
	return &intervalSchedule{every: every, delay: delay}
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed {
		s.primed = true
		return t.Add(s.delay)
	}
	return t.Add(s.every)
}

// ScheduleFor builds the schedule of a job config. A cron expression takes
// precedence over an interval.
func ScheduleFor(cfg internal.JobConfig) (Schedule, error) {
	if cfg.Cron != "" {
		schedule, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", cfg.Cron, err)
		}
		return schedule, nil
	}
	if cfg.EveryMS <= 0 {
		return nil, fmt.Errorf("either cron or every_ms is required")
	}
	if cfg.InitialDelayMS < 0 {
		return nil, fmt.Errorf("initial_delay_ms must not be negative")
	}
	return Every(time.Duration(cfg.EveryMS)*time.Millisecond, time.Duration(cfg.InitialDelayMS)*time.Millisecond), nil
}

// Entries pairs every enabled job with its configured schedule.
func Entries(cfg internal.SchedulerConfig, all []jobs.Job) ([]Entry, error) {
	configs := map[string]internal.JobConfig{
		jobs.AcceptInvitationsJob:     cfg.Jobs.AcceptInvitations,
		jobs.PayInvoicesJob:           cfg.Jobs.PayInvoices,
		jobs.ReviewContractsJob:       cfg.Jobs.ReviewContracts,
		jobs.ReviewUnassignedTasksJob: cfg.Jobs.ReviewUnassignedTasks,
	}
	entries := make([]Entry, 0, len(all))
	for _, job := range all {
		jobCfg, ok := configs[job.Name]
		if !ok {
			return nil, fmt.Errorf("no schedule configured for job %s", job.Name)
		}
		if !jobCfg.IsEnabled() {
			continue
		}
		schedule, err := ScheduleFor(jobCfg)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		entries = append(entries, Entry{Job: job, Schedule: schedule})
	}
	return entries, nil
}

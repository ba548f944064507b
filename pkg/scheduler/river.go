package scheduler

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"selfpm/internal"
	"selfpm/pkg/jobs"
)

// SweepArgs is the River job inserted for every activation of a sweep.
type SweepArgs struct {
	Job string `json:"job"`
}

func (SweepArgs) Kind() string { return "selfpm_sweep" }

type sweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	jobs   map[string]jobs.Job
	logger *log.Logger
}

// Work runs the sweep. Item failures are reported by the sweep itself and
// never make River retry the job.
func (w *sweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	sweep, ok := w.jobs[job.Args.Job]
	if !ok {
		return river.JobCancel(fmt.Errorf("unknown sweep %q", job.Args.Job))
	}
	w.logger.Printf("job %s started river_job=%d", sweep.Name, job.ID)
	report := sweep.Run(ctx)
	if len(report.Failures) > 0 {
		w.logger.Printf("job %s finished with %d failures", sweep.Name, len(report.Failures))
	}
	return nil
}

// RiverScheduler enqueues sweeps as River periodic jobs. The sweep queue runs
// a single worker so runs never overlap.
type RiverScheduler struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	logger *log.Logger
}

// NewRiver opens the pgx pool, migrates the River schema when configured and
// registers entries as periodic jobs.
func NewRiver(ctx context.Context, cfg internal.RiverSchedulerCfg, entries []Entry, logger *log.Logger) (*RiverScheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("river dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open river pool: %w", err)
	}
	driver := riverpgxv5.New(pool)

	if cfg.Migrate {
		migrator, err := rivermigrate.New(driver, nil)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate river schema: %w", err)
		}
	}

	worker := &sweepWorker{jobs: make(map[string]jobs.Job, len(entries)), logger: logger}
	periodic := make([]*river.PeriodicJob, 0, len(entries))
	for _, entry := range entries {
		worker.jobs[entry.Job.Name] = entry.Job
		periodic = append(periodic, river.NewPeriodicJob(entry.Schedule, sweepConstructor(entry.Job.Name, cfg.Queue), nil))
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(driver, &river.Config{
		Logger:       slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		Queues:       map[string]river.QueueConfig{cfg.Queue: {MaxWorkers: 1}},
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &RiverScheduler{pool: pool, client: client, logger: logger}, nil
}

func sweepConstructor(name, queue string) river.PeriodicJobConstructor {
	return func() (river.JobArgs, *river.InsertOpts) {
		return SweepArgs{Job: name}, &river.InsertOpts{Queue: queue, MaxAttempts: 1}
	}
}

// Start starts the River client; periodic jobs are enqueued from then on.
func (s *RiverScheduler) Start(ctx context.Context) error {
	return s.client.Start(ctx)
}

// Stop waits for running sweeps until ctx expires and closes the pool.
func (s *RiverScheduler) Stop(ctx context.Context) error {
	defer s.pool.Close()
	return s.client.Stop(ctx)
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dlevel-stack/shared/monitoring"

	"github.com/robfig/cron/v3"
)

// Metrics defines the common interface for job metrics
type Metrics interface {
	// GetSummary returns a human-readable summary of the run
	GetSummary() string
}

// JobEvents provides callbacks for monitoring job execution
type JobEvents struct {
	OnSuccess         func(metrics Metrics, duration time.Duration)
	OnPartialFailure  func(err error, duration time.Duration)
	OnCriticalFailure func(err error, duration time.Duration)
}

// Job is a unit of background work run on a cron schedule.
type Job interface {
	Name() string
	RunOnce(ctx context.Context, events *JobEvents) error
	Initialize() error
}

// Scheduler manages the execution of a job on a schedule
type Scheduler struct {
	schedule string
	monitor  *monitoring.Monitor
	job      Job
	cron     *cron.Cron
}

func New(schedule string, monitor *monitoring.Monitor, job Job) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		monitor:  monitor,
		job:      job,
		// Prevent overlapping runs
		cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.job.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize job: %w", err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			slog.Error("scheduled job failed", slog.String("job", s.job.Name()), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	slog.Info("scheduler started", slog.String("job", s.job.Name()), slog.String("schedule", s.schedule))
	s.cron.Start()

	<-ctx.Done()
	slog.Info("scheduler stopped", slog.String("job", s.job.Name()))
	<-s.cron.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	startTime := time.Now()
	name := s.job.Name()

	slog.Debug("starting job run", slog.String("job", name))

	events := &JobEvents{
		OnSuccess: func(metrics Metrics, duration time.Duration) {
			s.monitor.RecordSuccess(metrics.GetSummary(), duration)
		},
		OnPartialFailure: func(err error, duration time.Duration) {
			s.monitor.RecordPartialFailure(fmt.Errorf("%s partial failure: %w", name, err), duration)
		},
		OnCriticalFailure: func(err error, duration time.Duration) {
			s.monitor.RecordCriticalFailure(fmt.Errorf("%s critical failure: %w", name, err), duration)
		},
	}

	if err := s.job.RunOnce(ctx, events); err != nil {
		duration := time.Since(startTime)
		s.monitor.RecordCriticalFailure(fmt.Errorf("%s failed: %w", name, err), duration)
		return fmt.Errorf("%s run failed: %w", name, err)
	}

	return nil
}

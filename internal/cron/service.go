package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout caps each job's context. Zero means the interval.
	JobTimeout time.Duration
}

// Service runs the marketplace sweeps (deal expiry, stale pending orders, outbox retention) on a
// fixed cadence. Only the replica holding the lock runs a cycle.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        time.Now,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.jobTimeout <= 0 || svc.jobTimeout > svc.interval {
		svc.jobTimeout = svc.interval
	}
	return svc, nil
}

// Run executes a cycle immediately and then on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"interval":    s.interval.String(),
		"job_timeout": s.jobTimeout.String(),
		"jobs":        s.registry.Names(),
	}), "cron service starting")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every registered job when the lock is free and reports whether this replica ran
// the cycle. Job failures are logged and counted but never stop the remaining jobs.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	locked, err := s.lock.Acquire(ctx)
	switch {
	case err != nil:
		s.metrics.ObserveCycle(metrics.CycleLockError)
		return false, fmt.Errorf("lock acquire: %w", err)
	case !locked:
		s.metrics.ObserveCycle(metrics.CycleSkipped)
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return false, nil
	}
	s.metrics.ObserveCycle(metrics.CycleRan)
	defer func() {
		// the cycle ctx may already be cancelled; the lock should still be handed back
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		s.runJob(ctx, job)
	}
	return true, nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	}), s.jobTimeout)
	defer cancel()

	start := s.now()
	err := safeRun(jobCtx, job)
	finished := s.now()
	took := finished.Sub(start)
	s.metrics.ObserveRun(job.Name(), took, finished, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}

// safeRun turns a job panic into an error so one broken sweep cannot kill the worker.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

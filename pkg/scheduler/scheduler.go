// Package scheduler owns the recurring run trigger. A fixed-interval timer
// fires the pipeline; overlapping runs are prevented explicitly, because an
// overlapping run would compute its admission budget against a queue depth
// the previous run is still mutating.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
)

// Prometheus metrics for the scheduler.
var (
	schedulerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_scheduler_ticks_total",
		Help: "Scheduler ticks by outcome",
	}, []string{"outcome"})
)

// Task is one pipeline run.
type Task func(ctx context.Context) error

// Locker extends single-flight across process replicas. Acquire returns
// false when another replica holds the lock.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// Config holds scheduler settings.
type Config struct {
	// Interval between trigger firings.
	Interval time.Duration

	// RunTimeout bounds one run; zero means no bound beyond the parent
	// context.
	RunTimeout time.Duration

	// Lock is the optional cross-replica lock.
	Lock Locker
}

// Scheduler drives the recurring pipeline trigger with single-flight
// protection. State machine per process: Idle -> Running -> Idle.
type Scheduler struct {
	task    Task
	cfg     Config
	running atomic.Bool
	logger  zerolog.Logger
}

// New creates a scheduler for the given task.
func New(task Task, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	return &Scheduler{
		task:   task,
		cfg:    cfg,
		logger: logging.NewLogger("scheduler"),
	}
}

// Run fires the task immediately, then on every interval tick, until the
// context is cancelled. A failed run is logged and never stops future
// ticks.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Msg("Scheduler started")

	s.tryRun(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.tryRun(ctx)
		}
	}
}

// TryRun attempts one run outside the timer loop, honoring the same
// single-flight protection. Returns false if a run was already in flight.
func (s *Scheduler) TryRun(ctx context.Context) bool {
	return s.tryRun(ctx)
}

func (s *Scheduler) tryRun(ctx context.Context) bool {
	// The interval timer does not wait for completion; the flag does.
	if !s.running.CompareAndSwap(false, true) {
		schedulerTicksTotal.WithLabelValues("skipped_inflight").Inc()
		s.logger.Warn().Msg("Previous run still in flight, skipping tick")
		return false
	}
	defer s.running.Store(false)

	if s.cfg.Lock != nil {
		ok, err := s.cfg.Lock.Acquire(ctx)
		if err != nil {
			schedulerTicksTotal.WithLabelValues("lock_error").Inc()
			s.logger.Error().Err(err).Msg("Run lock acquisition failed")
			return false
		}
		if !ok {
			schedulerTicksTotal.WithLabelValues("skipped_locked").Inc()
			s.logger.Info().Msg("Another replica holds the run lock, skipping tick")
			return false
		}
		defer s.cfg.Lock.Release(ctx)
	}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.task(runCtx); err != nil {
		schedulerTicksTotal.WithLabelValues("error").Inc()
		s.logger.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Run failed")
		return true
	}

	schedulerTicksTotal.WithLabelValues("ok").Inc()
	s.logger.Info().
		Dur("duration", time.Since(start)).
		Msg("Run finished")
	return true
}

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"cio-queue/internal/logging"
	"cio-queue/internal/models"
)

// SchedulerOptions controls when drains start.
type SchedulerOptions struct {
	// MinTasksToRun drains right after an add once the queue holds this many tasks.
	MinTasksToRun int
	// RunDelay drains a smaller queue after this delay. Zero means only the cron jobs drain it.
	RunDelay time.Duration
	// DrainSchedule and CleanupSchedule are cron specs; empty disables the job.
	DrainSchedule   string
	CleanupSchedule string
}

// Scheduler decides when the queue runs: immediately after enough adds, after a short
// delay for a trickle of adds, and periodically from cron.
type Scheduler struct {
	queue  *Queue
	opts   SchedulerOptions
	cron   *cron.Cron
	logger *log.Logger

	mu    sync.Mutex
	ctx   context.Context
	timer *time.Timer
}

// NewScheduler validates the cron specs and registers the periodic jobs. Nothing runs
// until Start.
func NewScheduler(q *Queue, opts SchedulerOptions, logger *log.Logger) (*Scheduler, error) {
	s := &Scheduler{
		queue:  q,
		opts:   opts,
		cron:   cron.New(),
		logger: logging.OrDiscard(logger),
		ctx:    context.Background(),
	}
	if opts.DrainSchedule != "" {
		if _, err := s.cron.AddFunc(opts.DrainSchedule, s.drainJob); err != nil {
			return nil, fmt.Errorf("drain schedule %q: %w", opts.DrainSchedule, err)
		}
	}
	if opts.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(opts.CleanupSchedule, s.cleanupJob); err != nil {
			return nil, fmt.Errorf("cleanup schedule %q: %w", opts.CleanupSchedule, err)
		}
	}
	return s, nil
}

// Start runs the cron jobs. Drains started by the scheduler use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info().Str("drain", s.opts.DrainSchedule).Str("cleanup", s.opts.CleanupSchedule).Int("min_tasks", s.opts.MinTasksToRun).Dur("run_delay", s.opts.RunDelay).Msg("queue scheduler started")
}

// Stop cancels the pending delayed run and waits for running cron jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// ProcessQueueStatus is called after every successful add.
func (s *Scheduler) ProcessQueueStatus(status models.QueueStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status.NumTasksInQueue >= s.opts.MinTasksToRun {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.logger.Debug().Int("queue_size", status.NumTasksInQueue).Msg("queue threshold reached, running")
		s.queue.Run(s.ctx, nil)
		return
	}
	if s.opts.RunDelay <= 0 || s.timer != nil {
		return
	}
	ctx := s.ctx
	s.timer = time.AfterFunc(s.opts.RunDelay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		s.queue.Run(ctx, nil)
	})
}

// DelayedRunPending reports whether a delayed run is armed.
func (s *Scheduler) DelayedRunPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) drainJob() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	result, err := s.queue.RunAndWait(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("scheduled queue drain stopped")
		return
	}
	s.logger.Debug().Int("succeeded", result.Succeeded).Int("failed", result.Failed).Msg("scheduled queue drain done")
}

func (s *Scheduler) cleanupJob() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.queue.DeleteExpiredTasks(ctx)
}

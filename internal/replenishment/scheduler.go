package replenishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
)

const lockKey = "replenishment:run-lock"

// Runner is what the scheduler drives.
type Runner interface {
	RunSnapshot(ctx context.Context, trigger Trigger) (Snapshot, error)
	HasSnapshotFor(ctx context.Context, date string) (bool, error)
}

// SchedulerConfig controls when the daily run fires.
type SchedulerConfig struct {
	Hour     int
	Minute   int
	Location *time.Location
	CatchUp  bool
	LockTTL  time.Duration
}

// Scheduler owns the daily replenishment run. Only one run executes at a time
// per process; the Redis lock extends that across workers.
type Scheduler struct {
	runner  Runner
	locker  *cache.Locker
	cfg     SchedulerConfig
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool

	mu   sync.Mutex
	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewScheduler constructs Scheduler. locker may be nil.
func NewScheduler(runner Runner, locker *cache.Locker, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner: runner,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Spec is the cron expression for the daily run.
func (s *Scheduler) Spec() string {
	return fmt.Sprintf("%d %d * * *", s.cfg.Minute, s.cfg.Hour)
}

// Start registers the daily entry and, when enabled, fires a catch-up run in
// the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("replenishment: scheduler already started")
	}
	c := cron.New(cron.WithLocation(s.cfg.Location))
	if _, err := c.AddFunc(s.Spec(), func() {
		if _, err := s.run(ctx, TriggerScheduled); err != nil {
			s.logRunError(TriggerScheduled, err)
		}
	}); err != nil {
		return fmt.Errorf("replenishment: schedule %q: %w", s.Spec(), err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("replenishment scheduler started",
		slog.String("spec", s.Spec()),
		slog.String("timezone", s.cfg.Location.String()))

	if s.cfg.CatchUp {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.CatchUp(ctx); err != nil {
				s.logRunError(TriggerCatchUp, err)
			}
		}()
	}
	return nil
}

// Stop halts the schedule and waits for any running job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
}

// RunNow triggers an immediate run.
func (s *Scheduler) RunNow(ctx context.Context, trigger Trigger) (Snapshot, error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	return s.run(ctx, trigger)
}

// CatchUp runs once when today's scheduled time has passed and no snapshot
// exists for today. It reports whether a run happened.
func (s *Scheduler) CatchUp(ctx context.Context) (bool, error) {
	now := s.now().In(s.cfg.Location)
	due := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	if now.Before(due) {
		return false, nil
	}
	exists, err := s.runner.HasSnapshotFor(ctx, now.Format("2006-01-02"))
	if err != nil || exists {
		return false, err
	}
	if _, err := s.run(ctx, TriggerCatchUp); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) run(ctx context.Context, trigger Trigger) (Snapshot, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Snapshot{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	release, err := s.locker.Acquire(ctx, lockKey, s.cfg.LockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return Snapshot{}, ErrRunInProgress.Detail("held by another worker")
	}
	if err != nil {
		return Snapshot{}, err
	}
	defer release()
	return s.runner.RunSnapshot(ctx, trigger)
}

func (s *Scheduler) logRunError(trigger Trigger, err error) {
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("replenishment run skipped", slog.String("trigger", string(trigger)), slog.Any("error", err))
		return
	}
	s.logger.Error("replenishment run failed", slog.String("trigger", string(trigger)), slog.Any("error", err))
}

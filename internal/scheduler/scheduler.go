// Package scheduler drives the per-user pipeline on a fixed cadence and sweeps
// expired ledger rows and old audio clips.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/pipeline"
	"github.com/rewired-gh/stockpulse/internal/tracking"
)

// State of the scheduler.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// UserLister enumerates users with an enabled channel and at least one holding.
type UserLister interface {
	ListEligibleUsers(ctx context.Context) ([]string, error)
}

// Processor runs the pipeline for one user.
type Processor interface {
	ProcessUser(ctx context.Context, userID string, trigger pipeline.Trigger) (pipeline.Result, error)
}

// Sweeper deletes expired ledger rows.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// AudioPruner deletes audio clips created before cutoff.
type AudioPruner interface {
	DeleteAudioClipsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes cadence and concurrency.
type Config struct {
	PollInterval    time.Duration
	SweepInterval   time.Duration
	UserConcurrency int
	RunOnStart      bool
	AudioRetention  time.Duration
}

// Scheduler owns the cron runner. Start and Stop are idempotent.
type Scheduler struct {
	users   UserLister
	proc    Processor
	sweeper Sweeper
	pruner  AudioPruner
	cfg     Config

	mu     sync.Mutex
	state  State
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped scheduler. sweeper and pruner may be nil.
func New(users UserLister, proc Processor, sweeper Sweeper, pruner AudioPruner, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.UserConcurrency <= 0 {
		cfg.UserConcurrency = 4
	}
	return &Scheduler{users: users, proc: proc, sweeper: sweeper, pruner: pruner, cfg: cfg}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins ticking. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))

	tickID, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollInterval), func() { s.Tick(ctx) })
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule poll: %w", err)
	}
	if s.sweeper != nil || s.pruner != nil {
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval), func() { s.Sweep(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule sweep: %w", err)
		}
	}
	c.Start()

	s.cron, s.cancel, s.state = c, cancel, StateRunning
	if s.cfg.RunOnStart {
		// The wrapped job shares the skip-if-running guard with scheduled ticks.
		job := c.Entry(tickID).WrappedJob
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}
	logger.Info("Scheduler started (poll every %v, sweep every %v, %d users in parallel)",
		s.cfg.PollInterval, s.cfg.SweepInterval, s.cfg.UserConcurrency)
	return nil
}

// Stop halts ticking and waits for an in-flight tick to finish. In-flight provider
// calls see a cancelled context. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cron, s.cancel, s.state = nil, nil, StateStopped
	logger.Info("Scheduler stopped")
}

// TickStats summarizes one tick.
type TickStats struct {
	Users  int
	Failed int
	Busy   int
}

// Tick processes every eligible user once with bounded concurrency. One user's
// error or panic never aborts the others.
func (s *Scheduler) Tick(ctx context.Context) TickStats {
	start := time.Now()
	log := logger.With("tick_id", uuid.New().String())

	users, err := s.users.ListEligibleUsers(ctx)
	if err != nil {
		log.Errorf("failed to list eligible users: %v", err)
		metrics.Ticks.WithLabelValues("error").Inc()
		return TickStats{}
	}

	var (
		mu    sync.Mutex
		stats = TickStats{Users: len(users)}
		g     errgroup.Group
	)
	g.SetLimit(s.cfg.UserConcurrency)
	for _, userID := range users {
		g.Go(func() error {
			err := s.processOne(ctx, userID)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, pipeline.ErrBusy) {
				stats.Busy++
			} else {
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	metrics.TickDuration.Observe(elapsed.Seconds())
	metrics.Ticks.WithLabelValues("completed").Inc()
	log.Infof("tick finished in %v: %d users, %d failed, %d busy", elapsed, stats.Users, stats.Failed, stats.Busy)
	return stats
}

// processOne is the per-user failure boundary.
func (s *Scheduler) processOne(ctx context.Context, userID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.With("user_id", userID).Errorf("pipeline panic: %v\n%s", r, debug.Stack())
			metrics.UsersProcessed.WithLabelValues(string(pipeline.TriggerScheduled), "panic").Inc()
			tracking.CapturePanic(r, userID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	_, err = s.proc.ProcessUser(ctx, userID, pipeline.TriggerScheduled)
	if err != nil && !errors.Is(err, pipeline.ErrBusy) {
		logger.With("user_id", userID).Errorf("pipeline failed: %v", err)
		tracking.CaptureUserError(err, userID, map[string]string{"trigger": string(pipeline.TriggerScheduled)})
	}
	return err
}

// Sweep removes expired ledger rows and audio clips past retention.
func (s *Scheduler) Sweep(ctx context.Context) {
	if s.sweeper != nil {
		if n, err := s.sweeper.SweepExpired(ctx); err != nil {
			logger.Error("Ledger sweep failed: %v", err)
		} else if n > 0 {
			logger.Info("Swept %d expired ledger records", n)
		}
	}
	if s.pruner != nil && s.cfg.AudioRetention > 0 {
		if n, err := s.pruner.DeleteAudioClipsBefore(ctx, time.Now().Add(-s.cfg.AudioRetention)); err != nil {
			logger.Error("Audio prune failed: %v", err)
		} else if n > 0 {
			logger.Info("Pruned %d audio clips", n)
		}
	}
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		metrics.Ticks.WithLabelValues("skipped").Inc()
		logger.Warn("Previous tick still running, skipping this one")
		return
	}
	logger.With(keysAndValues...).Debugf("cron: %s", msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.With(keysAndValues...).Errorf("cron: %s: %v", msg, err)
}

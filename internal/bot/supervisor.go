package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
	"github.com/dmarchuk/gridbot/internal/notify"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateDegraded   State = "degraded"
	StateRecovering State = "recovering"
	StateStopped    State = "stopped"
)

// Runner is the supervised workload. Start establishes connectivity and
// session state, RunTicks blocks until failure or cancellation, Stop
// releases resources. The supervisor is the only caller.
type Runner interface {
	Start(ctx context.Context) error
	RunTicks(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Supervisor keeps the runner alive through crashes. Restarts are
// budgeted: at most MaxRestartsPerHour transitions into Recovering per
// trailing hour; beyond that restarts are suppressed with capped
// exponential backoff until the window frees up. Unrecoverable errors
// (auth failure, kill switch) stop the supervisor for good.
type Supervisor struct {
	cfg      config.SupervisorConfig
	runner   Runner
	limiter  *restartLimiter
	clock    Clock
	notifier *notify.Notifier
	logger   *slog.Logger

	mu              sync.RWMutex
	state           State
	totalRestarts   int
	backoffAttempts int

	// onTransition is a test hook observing state changes.
	onTransition func(from, to State)
}

// NewSupervisor creates a supervisor over runner. The notifier may be
// nil.
func NewSupervisor(cfg config.SupervisorConfig, runner Runner, clock Clock, notifier *notify.Notifier, logger *slog.Logger) *Supervisor {
	if clock == nil {
		clock = NewClock()
	}
	return &Supervisor{
		cfg:      cfg,
		runner:   runner,
		limiter:  newRestartLimiter(cfg.MaxRestartsPerHour, time.Hour),
		clock:    clock,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "supervisor")),
		state:    StateStarting,
	}
}

// RestoreHistory reloads restart timestamps from a checkpoint so the
// budget survives process restarts.
func (s *Supervisor) RestoreHistory(times []time.Time) {
	s.limiter.restore(times)
	s.mu.Lock()
	s.totalRestarts = len(times)
	s.mu.Unlock()
}

// RestartHistory returns the recorded restart times inside the window.
func (s *Supervisor) RestartHistory() []time.Time {
	s.limiter.prune(s.clock.Now())
	return s.limiter.history()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Health reports the supervisor's view, merged with the runner's own
// health when it exposes one.
func (s *Supervisor) Health() domain.HealthStatus {
	var h domain.HealthStatus
	if hr, ok := s.runner.(interface{ Health() domain.HealthStatus }); ok {
		h = hr.Health()
	}
	s.mu.RLock()
	h.TotalRestarts = s.totalRestarts
	s.mu.RUnlock()
	h.RestartsInWindow = s.limiter.count(s.clock.Now())
	return h
}

// Run drives the runner until the context is cancelled or an
// unrecoverable error stops the session. A nil return means graceful
// shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.transition(StateStopped)
			return nil
		}

		if err := s.runner.Start(ctx); err != nil {
			if unrecoverable(err) {
				s.transition(StateStopped)
				return fmt.Errorf("supervisor: start: %w", err)
			}
			s.logger.ErrorContext(ctx, "start failed", slog.String("error", err.Error()))
			if stopped := s.degrade(ctx); stopped != nil {
				return stopped.err
			}
			continue
		}

		s.transition(StateRunning)
		s.resetBackoff()

		err := s.runner.RunTicks(ctx)
		s.stopRunner(ctx)

		switch {
		case err == nil:
			s.transition(StateStopped)
			return nil
		case unrecoverable(err):
			s.transition(StateStopped)
			s.logger.ErrorContext(ctx, "unrecoverable failure, stopping",
				slog.String("error", err.Error()))
			if s.notifier != nil {
				_ = s.notifier.Notify(ctx, "bot_stopped", "Bot stopped",
					fmt.Sprintf("Unrecoverable failure: %v", err))
			}
			return err
		default:
			s.logger.WarnContext(ctx, "run loop crashed", slog.String("error", err.Error()))
			if stopped := s.degrade(ctx); stopped != nil {
				return stopped.err
			}
		}
	}
}

type stopOutcome struct{ err error }

// degrade handles a crash: wait out the restart budget, then move
// through Recovering and the restart delay. A non-nil return means the
// context ended and the supervisor is Stopped.
func (s *Supervisor) degrade(ctx context.Context) *stopOutcome {
	s.transition(StateDegraded)

	for {
		now := s.clock.Now()
		if s.limiter.allow(now) {
			break
		}
		delay := s.backoffDelay()
		s.mu.Lock()
		s.backoffAttempts++
		s.mu.Unlock()

		s.logger.ErrorContext(ctx, "restart suppressed",
			slog.Int("restarts_in_window", s.limiter.count(now)),
			slog.Int("max_per_hour", s.cfg.MaxRestartsPerHour),
			slog.Duration("backoff", delay),
		)
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, "restart_suppressed", "Restart budget exhausted",
				fmt.Sprintf("%d restarts in the last hour (max %d); backing off %s: %v",
					s.limiter.count(now), s.cfg.MaxRestartsPerHour, delay, domain.ErrRestartSuppressed))
		}

		select {
		case <-ctx.Done():
			s.transition(StateStopped)
			return &stopOutcome{}
		case <-s.clock.After(delay):
		}
	}

	now := s.clock.Now()
	s.limiter.record(now)
	s.mu.Lock()
	s.totalRestarts++
	restarts := s.totalRestarts
	s.mu.Unlock()

	s.transition(StateRecovering)
	s.logger.InfoContext(ctx, "restarting",
		slog.Int("total_restarts", restarts),
		slog.Int("restarts_in_window", s.limiter.count(now)),
		slog.Duration("delay", s.cfg.RestartDelay.Duration),
	)
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, "bot_restarted", "Bot restarting",
			fmt.Sprintf("Restart %d (%d in the last hour)", restarts, s.limiter.count(now)))
	}

	select {
	case <-ctx.Done():
		s.transition(StateStopped)
		return &stopOutcome{}
	case <-s.clock.After(s.cfg.RestartDelay.Duration):
	}
	return nil
}

// stopRunner always runs, with a fresh deadline when the parent context
// is already gone.
func (s *Supervisor) stopRunner(ctx context.Context) {
	stopCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
	}
	if err := s.runner.Stop(stopCtx); err != nil {
		s.logger.Warn("runner stop failed", slog.String("error", err.Error()))
	}
}

// backoffDelay grows the suppressed-restart wait exponentially up to the
// configured cap.
func (s *Supervisor) backoffDelay() time.Duration {
	s.mu.RLock()
	attempts := s.backoffAttempts
	s.mu.RUnlock()

	delay := s.cfg.BackoffBase.Duration
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMax.Duration {
			return s.cfg.BackoffMax.Duration
		}
	}
	if delay > s.cfg.BackoffMax.Duration {
		delay = s.cfg.BackoffMax.Duration
	}
	return delay
}

func (s *Supervisor) resetBackoff() {
	s.mu.Lock()
	s.backoffAttempts = 0
	s.mu.Unlock()
}

func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	hook := s.onTransition
	s.mu.Unlock()

	if from != to {
		s.logger.Info("state transition",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
	}
	if hook != nil && from != to {
		hook(from, to)
	}
}

func unrecoverable(err error) bool {
	return errors.Is(err, domain.ErrKillSwitch) || errors.Is(err, domain.ErrAuthFailed)
}

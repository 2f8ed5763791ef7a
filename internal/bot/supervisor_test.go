package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock advances instantly: every After call moves simulated time
// forward by the requested duration and fires immediately.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// scriptedRunner crashes a fixed number of times, then returns a final
// error from RunTicks.
type scriptedRunner struct {
	crashes int
	final   error

	starts, runs, stops int
}

func (r *scriptedRunner) Start(ctx context.Context) error { r.starts++; return nil }

func (r *scriptedRunner) RunTicks(ctx context.Context) error {
	r.runs++
	if r.runs <= r.crashes {
		return fmt.Errorf("tick loop: %w", domain.ErrNetwork)
	}
	return r.final
}

func (r *scriptedRunner) Stop(ctx context.Context) error { r.stops++; return nil }

func supervisorConfig() config.SupervisorConfig {
	cfg := config.Defaults().Supervisor
	cfg.MaxRestartsPerHour = 10
	cfg.RestartDelay.Duration = time.Second
	cfg.BackoffBase.Duration = time.Minute
	cfg.BackoffMax.Duration = 30 * time.Minute
	return cfg
}

func TestSupervisorRestartBudgetRollingHour(t *testing.T) {
	clock := newFakeClock()
	runner := &scriptedRunner{crashes: 11, final: fmt.Errorf("auth: %w", domain.ErrAuthFailed)}
	sup := NewSupervisor(supervisorConfig(), runner, clock, nil, testLogger())

	var recoveringAt []time.Time
	sup.onTransition = func(from, to State) {
		if to == StateRecovering {
			recoveringAt = append(recoveringAt, clock.Now())
		}
	}

	err := sup.Run(context.Background())
	if !errors.Is(err, domain.ErrAuthFailed) {
		t.Fatalf("Run() = %v, want auth failure", err)
	}
	if sup.State() != StateStopped {
		t.Fatalf("final state = %s, want stopped", sup.State())
	}

	if len(recoveringAt) != 11 {
		t.Fatalf("recovering transitions = %d, want 11", len(recoveringAt))
	}

	// No rolling hour may contain more than 10 recoveries: the 11th must
	// land after the first has aged out of the window.
	for i := 0; i+10 < len(recoveringAt); i++ {
		if span := recoveringAt[i+10].Sub(recoveringAt[i]); span <= time.Hour {
			t.Errorf("restarts %d..%d span %s, budget of 10/hour violated", i, i+10, span)
		}
	}

	// The 11th crash was suppressed: simulated time had to pass through
	// escalating backoff before the restart went ahead.
	if gap := recoveringAt[10].Sub(recoveringAt[9]); gap <= time.Hour {
		t.Errorf("suppressed restart gap = %s, want > 1h of backoff", gap)
	}

	if runner.starts != 12 || runner.runs != 12 || runner.stops != 12 {
		t.Errorf("starts/runs/stops = %d/%d/%d, want 12 each", runner.starts, runner.runs, runner.stops)
	}
}

func TestSupervisorBackoffEscalatesAndCaps(t *testing.T) {
	cfg := supervisorConfig()
	sup := NewSupervisor(cfg, &scriptedRunner{}, newFakeClock(), nil, testLogger())

	want := []time.Duration{
		time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute,
		16 * time.Minute, 30 * time.Minute, 30 * time.Minute,
	}
	for i, w := range want {
		sup.backoffAttempts = i
		if got := sup.backoffDelay(); got != w {
			t.Errorf("attempt %d: delay = %s, want %s", i, got, w)
		}
	}
}

func TestSupervisorUnrecoverableStopsImmediately(t *testing.T) {
	runner := &scriptedRunner{final: fmt.Errorf("drawdown breach: %w", domain.ErrKillSwitch)}
	sup := NewSupervisor(supervisorConfig(), runner, newFakeClock(), nil, testLogger())

	err := sup.Run(context.Background())
	if !errors.Is(err, domain.ErrKillSwitch) {
		t.Fatalf("Run() = %v, want kill switch", err)
	}
	if sup.State() != StateStopped {
		t.Errorf("state = %s, want stopped", sup.State())
	}
	if len(sup.RestartHistory()) != 0 {
		t.Errorf("restarts = %d, want 0", len(sup.RestartHistory()))
	}
	if runner.stops != 1 {
		t.Errorf("stops = %d, want 1", runner.stops)
	}
}

func TestSupervisorGracefulShutdown(t *testing.T) {
	runner := &scriptedRunner{final: nil}
	sup := NewSupervisor(supervisorConfig(), runner, newFakeClock(), nil, testLogger())

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if sup.State() != StateStopped {
		t.Errorf("state = %s, want stopped", sup.State())
	}
}

func TestSupervisorCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &scriptedRunner{}
	sup := NewSupervisor(supervisorConfig(), runner, newFakeClock(), nil, testLogger())
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if runner.starts != 0 {
		t.Errorf("starts = %d, want 0", runner.starts)
	}
	if sup.State() != StateStopped {
		t.Errorf("state = %s, want stopped", sup.State())
	}
}

func TestSupervisorTransitionSequence(t *testing.T) {
	runner := &scriptedRunner{crashes: 1, final: fmt.Errorf("auth: %w", domain.ErrAuthFailed)}
	sup := NewSupervisor(supervisorConfig(), runner, newFakeClock(), nil, testLogger())

	var seq []State
	sup.onTransition = func(from, to State) { seq = append(seq, to) }

	_ = sup.Run(context.Background())

	want := []State{StateRunning, StateDegraded, StateRecovering, StateRunning, StateStopped}
	if len(seq) != len(want) {
		t.Fatalf("transitions = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s (full: %v)", i, seq[i], want[i], seq)
		}
	}
}

func TestSupervisorRestoreHistoryCountsAgainstBudget(t *testing.T) {
	clock := newFakeClock()
	cfg := supervisorConfig()

	// Pre-load a full window: the next crash must be suppressed first.
	var history []time.Time
	for i := 0; i < cfg.MaxRestartsPerHour; i++ {
		history = append(history, clock.Now().Add(-time.Duration(i)*time.Minute))
	}

	runner := &scriptedRunner{crashes: 1, final: fmt.Errorf("auth: %w", domain.ErrAuthFailed)}
	sup := NewSupervisor(cfg, runner, clock, nil, testLogger())
	sup.RestoreHistory(history)

	var recoveringAt []time.Time
	sup.onTransition = func(from, to State) {
		if to == StateRecovering {
			recoveringAt = append(recoveringAt, clock.Now())
		}
	}

	start := clock.Now()
	_ = sup.Run(context.Background())

	if len(recoveringAt) != 1 {
		t.Fatalf("recovering transitions = %d, want 1", len(recoveringAt))
	}
	// The oldest restored restart was 9 minutes old, so at least 51
	// minutes of backoff must pass before the restart is allowed.
	if waited := recoveringAt[0].Sub(start); waited < 51*time.Minute {
		t.Errorf("restart allowed after %s, want >= 51m of suppression", waited)
	}
}

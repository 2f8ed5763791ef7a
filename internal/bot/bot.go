// Package bot contains the strategy and risk orchestration core: the
// order book state, the sequential tick loop, and the supervisor state
// machine that keeps the loop alive under failure.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
	"github.com/dmarchuk/gridbot/internal/engine"
	"github.com/dmarchuk/gridbot/internal/notify"
	"github.com/dmarchuk/gridbot/internal/risk"
)

// Deps bundles the collaborators the bot needs. Stores, cache, and
// notifier may be nil; persistence and alerts are then skipped.
type Deps struct {
	Exchange domain.Exchange
	Grid     *engine.Grid
	DCA      *engine.DCA
	Risk     *risk.Manager
	States   domain.StateStore
	Orders   domain.OrderStore
	Trades   domain.TradeStore
	Equities domain.EquityStore
	Prices   domain.PriceCache
	Notifier *notify.Notifier
	Clock    Clock
}

// Bot runs the per-symbol tick cycle: price ingestion, engine
// evaluation, risk overrides, intent reconciliation, submission, and
// checkpointing. All state mutation happens on the tick goroutine.
type Bot struct {
	cfg      *config.Config
	exchange domain.Exchange
	grid     *engine.Grid
	dca      *engine.DCA
	risk     *risk.Manager
	book     *OrderBook
	states   domain.StateStore
	orders   domain.OrderStore
	trades   domain.TradeStore
	equities domain.EquityStore
	prices   domain.PriceCache
	notifier *notify.Notifier
	clock    Clock
	logger   *slog.Logger

	fills    <-chan domain.FillEvent
	fillErrs <-chan error

	mu             sync.RWMutex
	health         domain.HealthStatus
	restartHistory func() []time.Time
}

// New creates a Bot. The supervisor drives it through Start, RunTicks,
// and Stop.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Bot {
	clock := deps.Clock
	if clock == nil {
		clock = NewClock()
	}
	return &Bot{
		cfg:      cfg,
		exchange: deps.Exchange,
		grid:     deps.Grid,
		dca:      deps.DCA,
		risk:     deps.Risk,
		book:     NewOrderBook(cfg.Trading.Symbol, logger),
		states:   deps.States,
		orders:   deps.Orders,
		trades:   deps.Trades,
		equities: deps.Equities,
		prices:   deps.Prices,
		notifier: deps.Notifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "bot")),
	}
}

// SetRestartHistory wires the supervisor's restart record into the
// checkpoint so the restart budget survives process restarts.
func (b *Bot) SetRestartHistory(fn func() []time.Time) { b.restartHistory = fn }

// Start connects to the exchange, recovers any checkpointed session, and
// opens the fill stream. A successful return means the first price
// snapshot succeeded and the bot is ready to tick.
func (b *Bot) Start(ctx context.Context) error {
	symbol := b.cfg.Trading.Symbol

	if err := b.exchange.SetLeverage(ctx, symbol, b.cfg.Trading.Leverage); err != nil {
		// Leverage is often already set; not fatal.
		b.logger.WarnContext(ctx, "set leverage failed",
			slog.Int("leverage", b.cfg.Trading.Leverage),
			slog.String("error", err.Error()),
		)
	}

	snap, err := b.getPrice(ctx)
	if err != nil {
		b.setConnection(domain.ConnFailed)
		return fmt.Errorf("bot: first price snapshot: %w", err)
	}

	if err := b.recover(ctx, snap); err != nil {
		return err
	}

	fills, fillErrs, err := b.exchange.StreamFills(ctx, symbol)
	if err != nil {
		b.setConnection(domain.ConnFailed)
		return fmt.Errorf("bot: fill stream: %w", err)
	}
	b.fills = fills
	b.fillErrs = fillErrs

	b.setConnection(domain.ConnConnected)
	// Baseline for the stale-tick watchdog in RunTicks.
	b.recordSuccess()
	b.logger.InfoContext(ctx, "bot started",
		slog.String("symbol", symbol),
		slog.Float64("price", snap.LastPrice),
	)
	return nil
}

// recover loads the latest checkpoint and rebuilds engine state, or
// initializes a fresh session when none exists.
func (b *Bot) recover(ctx context.Context, snap domain.PriceSnapshot) error {
	if b.states != nil {
		saved, err := b.states.Load(ctx, b.cfg.Trading.Symbol)
		switch {
		case err == nil:
			b.grid.Restore(saved.GridLevels)
			b.dca.Restore(saved.DCALadder, saved.TrendReference)
			b.risk.Restore(saved.Risk)
			b.book.SetPosition(saved.Position)
			b.logger.InfoContext(ctx, "session recovered from checkpoint",
				slog.Time("checkpoint_at", saved.UpdatedAt),
				slog.Int("grid_levels", len(saved.GridLevels)),
				slog.Int("dca_entries", len(saved.DCALadder)),
			)
			return nil
		case errors.Is(err, domain.ErrNotFound):
			// Fresh session.
		default:
			return fmt.Errorf("bot: load checkpoint: %w", err)
		}
	}

	if err := b.grid.Initialize(snap.LastPrice); err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	b.dca.Initialize(snap.LastPrice)
	return nil
}

// RunTicks runs the tick loop until the context is cancelled, the fill
// stream drops, the kill switch engages, or consecutive tick failures
// reach the configured threshold. A health check at CheckInterval
// escalates independently when no tick has completed for two intervals,
// catching loops that are alive but not making progress. A nil return
// means graceful stop.
func (b *Bot) RunTicks(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Supervisor.TickInterval.Duration)
	defer ticker.Stop()
	check := time.NewTicker(b.cfg.Supervisor.CheckInterval.Duration)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-check.C:
			last := b.lastTick()
			if last.IsZero() {
				continue
			}
			if stale := b.clock.Now().Sub(last); stale > 2*b.cfg.Supervisor.CheckInterval.Duration {
				b.setConnection(domain.ConnReconnecting)
				return fmt.Errorf("bot: no completed tick in %s: %w", stale, domain.ErrTimeout)
			}
		case err := <-b.fillErrs:
			if err == nil {
				continue
			}
			b.setConnection(domain.ConnReconnecting)
			return fmt.Errorf("bot: fill stream: %w", err)
		case <-ticker.C:
			if err := b.Tick(ctx); err != nil {
				if errors.Is(err, domain.ErrKillSwitch) {
					return err
				}
				fails := b.recordFailure()
				b.logger.WarnContext(ctx, "tick failed",
					slog.Int("consecutive_failures", fails),
					slog.String("error", err.Error()),
				)
				if fails >= b.cfg.Supervisor.FailureThreshold {
					b.setConnection(domain.ConnReconnecting)
					return fmt.Errorf("bot: %d consecutive tick failures: %w", fails, err)
				}
				continue
			}
			b.recordSuccess()
		}
	}
}

// Tick executes one evaluation cycle against a single consistent price
// and position view. Engines run sequentially; kill-switch intents are
// applied before anything else.
func (b *Bot) Tick(ctx context.Context) error {
	symbol := b.cfg.Trading.Symbol

	snap, err := b.getPrice(ctx)
	if err != nil {
		return fmt.Errorf("bot: price: %w", err)
	}

	pos, err := callWithRetry(ctx, b.cfg.Bybit, func(ctx context.Context) (domain.Position, error) {
		return b.exchange.GetPosition(ctx, symbol)
	})
	if err != nil {
		return fmt.Errorf("bot: position: %w", err)
	}

	bal, err := callWithRetry(ctx, b.cfg.Bybit, func(ctx context.Context) (domain.AccountBalance, error) {
		return b.exchange.GetBalance(ctx)
	})
	if err != nil {
		return fmt.Errorf("bot: balance: %w", err)
	}

	fills := b.drainFills()
	for _, fill := range fills {
		b.book.ApplyFill(fill)
		b.dca.OnFill(fill)
		b.persistFill(ctx, fill)
	}

	// The exchange view is authoritative for position and open orders.
	if open, err := b.exchange.OpenOrders(ctx, symbol); err == nil {
		b.book.Reconcile(open, pos)
	} else {
		b.logger.WarnContext(ctx, "open orders fetch failed, keeping local view",
			slog.String("error", err.Error()))
		b.book.SetPosition(pos)
	}

	action, riskIntents := b.risk.Evaluate(b.book.Position(), snap.LastPrice, bal.Equity)
	if action == domain.RiskActionKillSwitch {
		b.applyKillSwitch(ctx, riskIntents)
		b.persistTick(ctx, snap, bal)
		return fmt.Errorf("bot: %w: %s", domain.ErrKillSwitch, b.risk.State().KillSwitchReason)
	}

	intents := riskIntents
	intents = append(intents, b.grid.OnTick(snap, fills)...)
	intents = append(intents, b.dca.OnTick(snap)...)

	b.submit(ctx, intents)
	b.persistTick(ctx, snap, bal)
	return nil
}

// Stop finishes the session cooperatively: outstanding grid orders are
// cancelled best-effort and a final checkpoint is written. No order is
// left half-submitted because submission is synchronous within Tick.
func (b *Bot) Stop(ctx context.Context) error {
	symbol := b.cfg.Trading.Symbol

	if b.grid.Initialized() {
		if err := b.exchange.CancelAll(ctx, symbol); err != nil {
			b.logger.WarnContext(ctx, "cancel all on stop failed", slog.String("error", err.Error()))
		} else {
			b.book.ApplyCancelAll()
		}
	}
	b.checkpoint(ctx, b.clock.Now())
	b.logger.InfoContext(ctx, "bot stopped", slog.String("symbol", symbol))
	return nil
}

// Health returns a copy of the bot's health view.
func (b *Bot) Health() domain.HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health
}

// Snapshot returns the current session state for status reporting.
func (b *Bot) Snapshot() domain.StateSnapshot {
	return b.buildSnapshot(b.clock.Now())
}

// applyKillSwitch executes the latched override: cancel everything, then
// flatten at market, then tear down both engines.
func (b *Bot) applyKillSwitch(ctx context.Context, intents []domain.OrderIntent) {
	for _, intent := range intents {
		switch intent.Kind {
		case domain.IntentCancelAll:
			if err := b.exchange.CancelAll(ctx, intent.Symbol); err != nil {
				b.logger.ErrorContext(ctx, "kill switch cancel-all failed", slog.String("error", err.Error()))
			} else {
				b.book.ApplyCancelAll()
			}
		case domain.IntentFlatten:
			if _, err := b.exchange.PlaceOrder(ctx, intent); err != nil {
				b.logger.ErrorContext(ctx, "kill switch flatten failed", slog.String("error", err.Error()))
			}
		}
	}

	b.grid.Reset()
	b.dca.Reset()

	reason := b.risk.State().KillSwitchReason
	b.logger.ErrorContext(ctx, "kill switch executed", slog.String("reason", reason))
	if b.notifier != nil {
		_ = b.notifier.Notify(ctx, "kill_switch", "Kill switch engaged",
			fmt.Sprintf("%s: %s. All orders cancelled, position flattened.", b.cfg.Trading.Symbol, reason))
	}
}

// submit reconciles intents into exchange calls, routing each outcome
// back to the owning engine.
func (b *Bot) submit(ctx context.Context, intents []domain.OrderIntent) {
	for _, intent := range intents {
		switch intent.Kind {
		case domain.IntentPlace, domain.IntentFlatten:
			orderID, err := callWithRetry(ctx, b.cfg.Bybit, func(ctx context.Context) (string, error) {
				return b.exchange.PlaceOrder(ctx, intent)
			})
			if err != nil {
				b.rejectToOwner(intent, err)
				continue
			}
			b.book.ApplyPlacement(intent, orderID, b.clock.Now())
			b.confirmToOwner(intent, orderID)
			b.persistOrder(ctx, intent, orderID)
		case domain.IntentCancel:
			if err := b.exchange.CancelOrder(ctx, intent.Symbol, intent.OrderID); err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					b.logger.WarnContext(ctx, "cancel failed",
						slog.String("order_id", intent.OrderID),
						slog.String("error", err.Error()))
					continue
				}
			}
			b.book.ApplyCancel(intent.OrderID)
		case domain.IntentCancelAll:
			if err := b.exchange.CancelAll(ctx, intent.Symbol); err != nil {
				b.logger.WarnContext(ctx, "cancel all failed", slog.String("error", err.Error()))
				continue
			}
			b.book.ApplyCancelAll()
		}
	}
}

func (b *Bot) confirmToOwner(intent domain.OrderIntent, orderID string) {
	switch intent.Source {
	case "grid":
		b.grid.ConfirmPlaced(intent.LinkID, orderID)
	case "dca":
		b.dca.ConfirmPlaced(intent.LinkID, orderID)
	}
}

func (b *Bot) rejectToOwner(intent domain.OrderIntent, err error) {
	switch intent.Source {
	case "grid":
		b.grid.RejectPlaced(intent.LinkID, err)
	case "dca":
		b.dca.RejectPlaced(intent.LinkID, err)
	default:
		b.logger.Warn("risk intent rejected",
			slog.String("kind", string(intent.Kind)),
			slog.String("error", err.Error()))
	}
}

// drainFills empties the fill channel without blocking.
func (b *Bot) drainFills() []domain.FillEvent {
	var fills []domain.FillEvent
	for {
		select {
		case fill, ok := <-b.fills:
			if !ok {
				return fills
			}
			fills = append(fills, fill)
		default:
			return fills
		}
	}
}

// getPrice fetches the tick's price snapshot with bounded retries.
func (b *Bot) getPrice(ctx context.Context) (domain.PriceSnapshot, error) {
	return callWithRetry(ctx, b.cfg.Bybit, func(ctx context.Context) (domain.PriceSnapshot, error) {
		return b.exchange.GetPrice(ctx, b.cfg.Trading.Symbol)
	})
}

// persistTick records the equity snapshot, price cache entry, and state
// checkpoint. All best-effort: persistence failures never fail a tick.
func (b *Bot) persistTick(ctx context.Context, snap domain.PriceSnapshot, bal domain.AccountBalance) {
	if b.prices != nil {
		if err := b.prices.SetPrice(ctx, snap.Symbol, snap.LastPrice, snap.Timestamp); err != nil {
			b.logger.DebugContext(ctx, "price cache write failed", slog.String("error", err.Error()))
		}
	}
	if b.equities != nil {
		pos := b.book.Position()
		marginRatio := 0.0
		if bal.Equity > 0 {
			marginRatio = bal.UsedMargin / bal.Equity
		}
		err := b.equities.Insert(ctx, domain.EquitySnapshot{
			Balance:         bal.WalletBalance,
			Equity:          bal.Equity,
			UnrealizedPnL:   pos.UnrealizedPnL,
			RealizedPnL:     pos.RealizedPnL,
			DrawdownPercent: b.risk.State().DrawdownPercent,
			MarginRatio:     marginRatio,
			Timestamp:       snap.Timestamp,
		})
		if err != nil {
			b.logger.WarnContext(ctx, "equity snapshot write failed", slog.String("error", err.Error()))
		}
	}
	if b.cfg.Supervisor.CheckpointEveryTick {
		b.checkpoint(ctx, snap.Timestamp)
	}
}

func (b *Bot) checkpoint(ctx context.Context, at time.Time) {
	if b.states == nil {
		return
	}
	if err := b.states.Save(ctx, b.buildSnapshot(at)); err != nil {
		b.logger.WarnContext(ctx, "checkpoint write failed", slog.String("error", err.Error()))
	}
}

func (b *Bot) buildSnapshot(at time.Time) domain.StateSnapshot {
	var restarts []time.Time
	if b.restartHistory != nil {
		restarts = b.restartHistory()
	}
	return domain.StateSnapshot{
		ID:             uuid.NewString(),
		Symbol:         b.cfg.Trading.Symbol,
		Position:       b.book.Position(),
		Risk:           b.risk.State(),
		GridLevels:     b.grid.Levels(),
		DCALadder:      b.dca.Ladder(),
		TrendReference: b.dca.TrendReference(),
		RestartTimes:   restarts,
		UpdatedAt:      at,
	}
}

func (b *Bot) persistFill(ctx context.Context, fill domain.FillEvent) {
	if b.trades == nil {
		return
	}
	err := b.trades.Insert(ctx, domain.Trade{
		OrderID:   fill.OrderID,
		ExecID:    fill.ExecID,
		Symbol:    fill.Symbol,
		Side:      fill.Side,
		Price:     fill.Price,
		Size:      fill.Size,
		Fee:       fill.Fee,
		Timestamp: fill.Timestamp,
	})
	if err != nil {
		b.logger.WarnContext(ctx, "trade insert failed", slog.String("error", err.Error()))
	}
	if b.notifier != nil {
		_ = b.notifier.Notify(ctx, "order_filled", "Order filled",
			fmt.Sprintf("%s %s %.6f @ %.2f", fill.Symbol, fill.Side, fill.Size, fill.Price))
	}
}

func (b *Bot) persistOrder(ctx context.Context, intent domain.OrderIntent, orderID string) {
	if b.orders == nil {
		return
	}
	err := b.orders.Create(ctx, domain.Order{
		ID:        orderID,
		LinkID:    intent.LinkID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Type:      intent.Type,
		Price:     intent.Price,
		Size:      intent.Size,
		Status:    domain.OrderStatusOpen,
		Source:    intent.Source,
		CreatedAt: b.clock.Now(),
	})
	if err != nil {
		b.logger.WarnContext(ctx, "order insert failed", slog.String("error", err.Error()))
	}
}

func (b *Bot) lastTick() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health.LastTick
}

func (b *Bot) recordFailure() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health.ConsecutiveFailures++
	return b.health.ConsecutiveFailures
}

func (b *Bot) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health.ConsecutiveFailures = 0
	b.health.LastTick = b.clock.Now()
}

func (b *Bot) setConnection(state domain.ConnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health.Connection = state
}

// callWithRetry invokes fn with the configured timeout, retrying
// transient failures with exponential backoff. Non-transient errors
// return immediately.
func callWithRetry[T any](ctx context.Context, cfg config.BybitConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	backoff := cfg.RetryBackoff.Duration
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.RequestTimeout.Duration > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout.Duration)
		}
		out, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !domain.Transient(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

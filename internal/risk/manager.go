// Package risk evaluates drawdown, breakeven, and partial-profit
// conditions against the aggregate position and emits override intents.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
)

// Manager owns RiskState for a trading session. Peak equity is monotonic
// non-decreasing; the kill switch, breakeven, and partial-profit actions
// each latch and fire at most once per session. Single writer: only the
// tick loop calls Evaluate.
type Manager struct {
	cfg    config.RiskConfig
	symbol string
	logger *slog.Logger
	now    func() time.Time

	state domain.RiskState
}

// NewManager creates a risk manager seeded with the session's starting
// equity as the initial peak.
func NewManager(cfg config.RiskConfig, symbol string, initialEquity float64, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		symbol: symbol,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
		state: domain.RiskState{
			PeakEquity:    initialEquity,
			CurrentEquity: initialEquity,
		},
	}
}

// Evaluate updates the risk state from the tick's equity and position
// and returns the action taken plus any override intents. Kill-switch
// intents (cancel-all then flatten) must be applied by the caller before
// any engine intents from the same tick.
func (m *Manager) Evaluate(pos domain.Position, price, equity float64) (domain.RiskAction, []domain.OrderIntent) {
	m.state.CurrentEquity = equity
	if equity > m.state.PeakEquity {
		m.state.PeakEquity = equity
	}

	if m.state.PeakEquity > 0 {
		m.state.DrawdownPercent = (m.state.PeakEquity - equity) / m.state.PeakEquity * 100
	} else {
		m.state.DrawdownPercent = 0
	}
	if m.state.DrawdownPercent > m.state.MaxDrawdownSeen {
		m.state.MaxDrawdownSeen = m.state.DrawdownPercent
	}

	// Latched: once armed, the session is over and nothing re-fires.
	if m.state.KillSwitchArmed {
		return domain.RiskActionNone, nil
	}

	if m.cfg.KillSwitchEnabled && m.state.DrawdownPercent >= m.cfg.MaxDrawdownPercent {
		at := m.now().UTC()
		m.state.KillSwitchArmed = true
		m.state.KillSwitchReason = fmt.Sprintf("drawdown %.2f%% >= %.2f%%", m.state.DrawdownPercent, m.cfg.MaxDrawdownPercent)
		m.state.KillSwitchAt = &at

		m.logger.Error("kill switch engaged",
			slog.Float64("drawdown_pct", m.state.DrawdownPercent),
			slog.Float64("ceiling_pct", m.cfg.MaxDrawdownPercent),
			slog.Float64("peak_equity", m.state.PeakEquity),
			slog.Float64("equity", equity),
		)

		intents := []domain.OrderIntent{{
			Kind:   domain.IntentCancelAll,
			Symbol: m.symbol,
			Source: "risk",
		}}
		if !pos.Flat() {
			intents = append(intents, domain.OrderIntent{
				Kind:       domain.IntentFlatten,
				LinkID:     uuid.NewString(),
				Symbol:     m.symbol,
				Side:       pos.CloseSide(),
				Type:       domain.OrderTypeMarket,
				Size:       math.Abs(pos.Size),
				Source:     "risk",
				ReduceOnly: true,
			})
		}
		return domain.RiskActionKillSwitch, intents
	}

	if pos.Flat() {
		return domain.RiskActionNone, nil
	}

	// Breakeven: once unrealized PnL clears the buffer, rest a
	// reduce-only stop at the entry price. Fires once per session.
	if m.cfg.BreakevenEnabled && !m.state.BreakevenArmed {
		notional := math.Abs(pos.Size) * pos.EntryPrice
		buffer := notional * m.cfg.BreakevenBufferPct / 100
		if pos.UnrealizedPnL > buffer {
			m.state.BreakevenArmed = true
			m.state.BreakevenPrice = pos.EntryPrice

			m.logger.Info("breakeven armed",
				slog.Float64("entry_price", pos.EntryPrice),
				slog.Float64("unrealized_pnl", pos.UnrealizedPnL),
			)
			return domain.RiskActionArmBreakeven, []domain.OrderIntent{{
				Kind:       domain.IntentPlace,
				LinkID:     uuid.NewString(),
				Symbol:     m.symbol,
				Side:       pos.CloseSide(),
				Type:       domain.OrderTypeLimit,
				Price:      pos.EntryPrice,
				Size:       math.Abs(pos.Size),
				Source:     "risk",
				ReduceOnly: true,
			}}
		}
	}

	// Partial profit: reduce the position once price reaches the
	// configured multiple of entry. Fires once per session.
	if m.cfg.PartialProfitEnabled && !m.state.PartialProfitTaken {
		var reached bool
		if pos.Size > 0 {
			reached = price >= pos.EntryPrice*m.cfg.PartialProfitMult
		} else {
			reached = price <= pos.EntryPrice/m.cfg.PartialProfitMult
		}
		if reached {
			m.state.PartialProfitTaken = true
			size := math.Abs(pos.Size) * m.cfg.PartialProfitPercent / 100

			m.logger.Info("taking partial profit",
				slog.Float64("price", price),
				slog.Float64("entry_price", pos.EntryPrice),
				slog.Float64("reduce_size", size),
			)
			return domain.RiskActionTakePartialProfit, []domain.OrderIntent{{
				Kind:       domain.IntentPlace,
				LinkID:     uuid.NewString(),
				Symbol:     m.symbol,
				Side:       pos.CloseSide(),
				Type:       domain.OrderTypeMarket,
				Size:       size,
				Source:     "risk",
				ReduceOnly: true,
			}}
		}
	}

	return domain.RiskActionNone, nil
}

// KillSwitchArmed reports whether the session has been halted.
func (m *Manager) KillSwitchArmed() bool { return m.state.KillSwitchArmed }

// State returns a copy of the current risk state.
func (m *Manager) State() domain.RiskState { return m.state }

// Restore reloads a checkpointed risk state, preserving the latches.
func (m *Manager) Restore(state domain.RiskState) { m.state = state }

// ResetSession clears all latches and re-seeds the peak. Called when a
// new trading session starts after a kill-switch halt.
func (m *Manager) ResetSession(initialEquity float64) {
	m.state = domain.RiskState{
		PeakEquity:    initialEquity,
		CurrentEquity: initialEquity,
	}
	m.logger.Info("risk session reset", slog.Float64("initial_equity", initialEquity))
}

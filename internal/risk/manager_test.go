package risk

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		KillSwitchEnabled:    true,
		MaxDrawdownPercent:   20.0,
		BreakevenEnabled:     true,
		BreakevenBufferPct:   0.2,
		PartialProfitEnabled: true,
		PartialProfitPercent: 50.0,
		PartialProfitMult:    2.0,
	}
}

func longPosition(size, entry, pnl float64) domain.Position {
	return domain.Position{
		Symbol:        "BTCUSDT",
		Size:          size,
		EntryPrice:    entry,
		UnrealizedPnL: pnl,
		Leverage:      10,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestKillSwitchFiresOnceAndLatches(t *testing.T) {
	m := NewManager(riskConfig(), "BTCUSDT", 1000, testLogger())
	pos := longPosition(0.05, 60000, -150)

	// Below the ceiling: nothing happens.
	action, intents := m.Evaluate(pos, 59000, 850)
	if action != domain.RiskActionNone || len(intents) != 0 {
		t.Fatalf("15%% drawdown: action = %s, want none", action)
	}

	// Peak 1000, equity 790: 21% drawdown crosses the 20% ceiling.
	action, intents = m.Evaluate(pos, 58000, 790)
	if action != domain.RiskActionKillSwitch {
		t.Fatalf("action = %s, want kill_switch", action)
	}
	if len(intents) != 2 {
		t.Fatalf("intent count = %d, want cancel-all + flatten", len(intents))
	}
	if intents[0].Kind != domain.IntentCancelAll {
		t.Errorf("first intent = %s, want cancel_all", intents[0].Kind)
	}
	fl := intents[1]
	if fl.Kind != domain.IntentFlatten || fl.Type != domain.OrderTypeMarket {
		t.Errorf("second intent = %s/%s, want market flatten", fl.Kind, fl.Type)
	}
	if fl.Side != domain.OrderSideSell || !approx(fl.Size, 0.05) || !fl.ReduceOnly {
		t.Errorf("flatten = %s %v reduceOnly=%v, want sell 0.05 reduce-only", fl.Side, fl.Size, fl.ReduceOnly)
	}

	st := m.State()
	if !st.KillSwitchArmed || st.KillSwitchAt == nil || !approx(st.DrawdownPercent, 21) {
		t.Errorf("state after kill switch: %+v", st)
	}

	// Idempotent: deeper drawdown must not re-fire within the session.
	action, intents = m.Evaluate(pos, 55000, 600)
	if action != domain.RiskActionNone || len(intents) != 0 {
		t.Errorf("kill switch re-fired: action = %s, %d intents", action, len(intents))
	}
}

func TestKillSwitchFlatPositionCancelsOnly(t *testing.T) {
	m := NewManager(riskConfig(), "BTCUSDT", 1000, testLogger())

	action, intents := m.Evaluate(domain.Position{Symbol: "BTCUSDT"}, 58000, 790)
	if action != domain.RiskActionKillSwitch {
		t.Fatalf("action = %s, want kill_switch", action)
	}
	if len(intents) != 1 || intents[0].Kind != domain.IntentCancelAll {
		t.Errorf("flat position should emit cancel-all only, got %+v", intents)
	}
}

func TestPeakEquityMonotonic(t *testing.T) {
	m := NewManager(riskConfig(), "BTCUSDT", 1000, testLogger())
	flat := domain.Position{Symbol: "BTCUSDT"}

	m.Evaluate(flat, 60000, 1100)
	m.Evaluate(flat, 60000, 1050)
	st := m.State()
	if !approx(st.PeakEquity, 1100) {
		t.Errorf("peak = %v, want 1100", st.PeakEquity)
	}
	wantDD := (1100.0 - 1050.0) / 1100.0 * 100
	if !approx(st.DrawdownPercent, wantDD) {
		t.Errorf("drawdown = %v, want %v", st.DrawdownPercent, wantDD)
	}
}

func TestBreakevenArmsOnce(t *testing.T) {
	m := NewManager(riskConfig(), "BTCUSDT", 1000, testLogger())
	entry := 60000.0
	pos := longPosition(0.05, entry, 0)

	// In profit but inside the buffer: 0.2% of 3000 notional is 6.
	pos.UnrealizedPnL = 5
	action, _ := m.Evaluate(pos, 60100, 1005)
	if action != domain.RiskActionNone {
		t.Fatalf("inside buffer: action = %s, want none", action)
	}

	pos.UnrealizedPnL = 10
	action, intents := m.Evaluate(pos, 60200, 1010)
	if action != domain.RiskActionArmBreakeven {
		t.Fatalf("action = %s, want arm_breakeven", action)
	}
	if len(intents) != 1 {
		t.Fatalf("intent count = %d, want 1", len(intents))
	}
	in := intents[0]
	if in.Side != domain.OrderSideSell || !approx(in.Price, entry) || !in.ReduceOnly {
		t.Errorf("breakeven intent = %+v, want reduce-only sell at entry", in)
	}

	// Never fires twice for the same position.
	pos.UnrealizedPnL = 50
	action, intents = m.Evaluate(pos, 61000, 1050)
	if action == domain.RiskActionArmBreakeven || len(intents) != 0 {
		t.Error("breakeven re-armed")
	}
	if !m.State().BreakevenArmed || !approx(m.State().BreakevenPrice, entry) {
		t.Errorf("state = %+v", m.State())
	}
}

func TestPartialProfitTakenOnce(t *testing.T) {
	cfg := riskConfig()
	cfg.BreakevenEnabled = false
	m := NewManager(cfg, "BTCUSDT", 1000, testLogger())
	pos := longPosition(0.04, 30000, 100)

	// Below the 2x multiple: nothing.
	action, _ := m.Evaluate(pos, 59000, 1100)
	if action != domain.RiskActionNone {
		t.Fatalf("below multiple: action = %s", action)
	}

	action, intents := m.Evaluate(pos, 60000, 1200)
	if action != domain.RiskActionTakePartialProfit {
		t.Fatalf("action = %s, want take_partial_profit", action)
	}
	if len(intents) != 1 {
		t.Fatalf("intent count = %d, want 1", len(intents))
	}
	in := intents[0]
	if in.Type != domain.OrderTypeMarket || !approx(in.Size, 0.02) || !in.ReduceOnly {
		t.Errorf("partial profit intent = %+v, want reduce-only market 0.02", in)
	}

	// Idempotent on further evaluations past the threshold.
	action, intents = m.Evaluate(pos, 65000, 1300)
	if action != domain.RiskActionNone || len(intents) != 0 {
		t.Error("partial profit re-fired")
	}
}

func TestKillSwitchPrecedesOtherActions(t *testing.T) {
	// Position is both past the partial-profit multiple and in deep
	// equity drawdown; the kill switch must win.
	cfg := riskConfig()
	m := NewManager(cfg, "BTCUSDT", 1000, testLogger())
	pos := longPosition(0.04, 30000, 500)

	action, intents := m.Evaluate(pos, 61000, 790)
	if action != domain.RiskActionKillSwitch {
		t.Fatalf("action = %s, want kill_switch", action)
	}
	if intents[0].Kind != domain.IntentCancelAll {
		t.Error("cancel-all must come first")
	}
}

func TestRestorePreservesLatches(t *testing.T) {
	m := NewManager(riskConfig(), "BTCUSDT", 1000, testLogger())
	pos := longPosition(0.05, 60000, -150)
	m.Evaluate(pos, 58000, 790)
	saved := m.State()

	m2 := NewManager(riskConfig(), "BTCUSDT", 1000, testLogger())
	m2.Restore(saved)
	if !m2.KillSwitchArmed() {
		t.Fatal("restored manager lost the kill-switch latch")
	}
	action, intents := m2.Evaluate(pos, 57000, 700)
	if action != domain.RiskActionNone || len(intents) != 0 {
		t.Error("restored latch did not suppress re-fire")
	}

	m2.ResetSession(700)
	if m2.KillSwitchArmed() {
		t.Error("session reset should clear the latch")
	}
	if !approx(m2.State().PeakEquity, 700) {
		t.Errorf("peak after reset = %v, want 700", m2.State().PeakEquity)
	}
}

package domain

import "time"

// RiskAction is the outcome of one risk evaluation.
type RiskAction string

const (
	RiskActionNone              RiskAction = "none"
	RiskActionArmBreakeven      RiskAction = "arm_breakeven"
	RiskActionTakePartialProfit RiskAction = "take_partial_profit"
	RiskActionKillSwitch        RiskAction = "kill_switch"
)

// RiskState is the risk manager's session state. PeakEquity is monotonic
// non-decreasing until a kill-switch event resets the session; the
// one-shot flags latch so each action fires at most once per session.
type RiskState struct {
	PeakEquity         float64    `json:"peak_equity"`
	CurrentEquity      float64    `json:"current_equity"`
	DrawdownPercent    float64    `json:"drawdown_percent"`
	MaxDrawdownSeen    float64    `json:"max_drawdown_seen"`
	BreakevenArmed     bool       `json:"breakeven_armed"`
	BreakevenPrice     float64    `json:"breakeven_price,omitempty"`
	PartialProfitTaken bool       `json:"partial_profit_taken"`
	KillSwitchArmed    bool       `json:"kill_switch_armed"`
	KillSwitchReason   string     `json:"kill_switch_reason,omitempty"`
	KillSwitchAt       *time.Time `json:"kill_switch_at,omitempty"`
}

// EquitySnapshot is one audit-trail row of account performance.
type EquitySnapshot struct {
	ID              int64
	Balance         float64
	Equity          float64
	UnrealizedPnL   float64
	RealizedPnL     float64
	DrawdownPercent float64
	MarginRatio     float64
	Timestamp       time.Time
}

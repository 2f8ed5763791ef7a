package domain

import "time"

// StateSnapshot is the durable checkpoint written after every
// state-changing tick and reloaded on startup recovery. Loading a
// snapshot must reconstruct the pre-crash session exactly.
type StateSnapshot struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	Position       Position         `json:"position"`
	Risk           RiskState        `json:"risk"`
	GridLevels     []GridLevel      `json:"grid_levels"`
	DCALadder      []DCALadderEntry `json:"dca_ladder"`
	TrendReference float64          `json:"trend_reference"`
	RestartTimes   []time.Time      `json:"restart_times"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Trade is one persisted execution.
type Trade struct {
	ID        int64
	OrderID   string
	ExecID    string
	Symbol    string
	Side      OrderSide
	Price     float64
	Size      float64
	Fee       float64
	Source    string
	Timestamp time.Time
}

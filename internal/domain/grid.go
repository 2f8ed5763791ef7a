package domain

import "time"

// GridLevelState is the finite state of one grid level. A filled level
// is replaced by an opposite-side pending level exactly once; Parked is
// terminal after placement retries are exhausted.
type GridLevelState string

const (
	GridLevelPending   GridLevelState = "pending"
	GridLevelOpen      GridLevelState = "open"
	GridLevelFilled    GridLevelState = "filled"
	GridLevelCancelled GridLevelState = "cancelled"
	GridLevelParked    GridLevelState = "parked"
)

// GridLevel is one price point in the ladder. Owned exclusively by the
// grid engine; at most one live order per level.
type GridLevel struct {
	Index     int            `json:"index"`
	Price     float64        `json:"price"`
	Side      OrderSide      `json:"side"`
	Size      float64        `json:"size"`
	OrderID   string         `json:"order_id,omitempty"`
	LinkID    string         `json:"link_id,omitempty"`
	State     GridLevelState `json:"state"`
	Retries   int            `json:"retries,omitempty"`
	FillPrice float64        `json:"fill_price,omitempty"`
	FilledAt  *time.Time     `json:"filled_at,omitempty"`
}

// DCALadderEntry is one scaled trend-following entry in sequence.
// Sequence is strictly increasing; at most MaxOrders entries exist
// between resets.
type DCALadderEntry struct {
	Sequence     int        `json:"sequence"`
	TriggerPrice float64    `json:"trigger_price"`
	Size         float64    `json:"size"`
	OrderID      string     `json:"order_id,omitempty"`
	LinkID       string     `json:"link_id,omitempty"`
	FillPrice    float64    `json:"fill_price,omitempty"`
	Filled       bool       `json:"filled"`
	CreatedAt    time.Time  `json:"created_at"`
	FilledAt     *time.Time `json:"filled_at,omitempty"`
}

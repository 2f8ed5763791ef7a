package domain

import "time"

// PriceSnapshot is the immutable per-tick market view.
type PriceSnapshot struct {
	Symbol    string
	LastPrice float64
	Timestamp time.Time
}

// Position is the net position for one symbol. Mutated only by
// reconciliation against exchange fills, never speculatively.
type Position struct {
	Symbol        string    `json:"symbol"`
	Size          float64   `json:"size"` // signed: >0 long, <0 short
	EntryPrice    float64   `json:"entry_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	Leverage      int       `json:"leverage"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Flat reports whether there is no open exposure.
func (p Position) Flat() bool {
	return p.Size == 0
}

// CloseSide returns the order side that reduces the position.
func (p Position) CloseSide() OrderSide {
	if p.Size > 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// AccountBalance is the wallet snapshot used for equity tracking.
type AccountBalance struct {
	WalletBalance float64
	Equity        float64
	UsedMargin    float64
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists the order audit trail.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListOpen(ctx context.Context, symbol string) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Order, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeStore persists executions.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	List(ctx context.Context, symbol string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EquityStore persists per-tick equity snapshots.
type EquityStore interface {
	Insert(ctx context.Context, snap EquitySnapshot) error
	Latest(ctx context.Context) (EquitySnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]EquitySnapshot, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]EquitySnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// StateStore persists the single-row session checkpoint.
type StateStore interface {
	Save(ctx context.Context, snap StateSnapshot) error
	// Load returns ErrNotFound when no checkpoint exists for the symbol.
	Load(ctx context.Context, symbol string) (StateSnapshot, error)
	Clear(ctx context.Context, symbol string) error
}

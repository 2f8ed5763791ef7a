package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a single exchange order as this process knows it.
type Order struct {
	ID          string // exchange order id
	LinkID      string // client-generated id, stable across retries
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Price       float64 // zero for market orders
	Size        float64
	FilledSize  float64
	AvgPrice    float64
	Status      OrderStatus
	Source      string // "grid", "dca", "risk"
	CreatedAt   time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time
}

// IntentKind tells the reconciler what to do with an OrderIntent.
type IntentKind string

const (
	IntentPlace     IntentKind = "place"
	IntentCancel    IntentKind = "cancel"
	IntentCancelAll IntentKind = "cancel_all"
	IntentFlatten   IntentKind = "flatten"
)

// OrderIntent is one desired order action emitted by an engine or the
// risk manager during a tick. Intents are reconciled against
// OrderBookState before anything is sent to the exchange.
type OrderIntent struct {
	Kind       IntentKind
	LinkID     string
	OrderID    string // for cancels
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Price      float64
	Size       float64
	Source     string
	ReduceOnly bool
}

// FillEvent is an execution report from the exchange fill stream.
type FillEvent struct {
	OrderID   string
	LinkID    string
	Symbol    string
	Side      OrderSide
	Price     float64
	Size      float64
	Fee       float64
	ExecID    string
	Timestamp time.Time
}

package domain

import "context"

// Exchange is the narrow contract the core consumes. Implementations
// translate venue failures into the sentinel errors in errors.go:
// ErrTimeout, ErrRateLimited, ErrAuthFailed, ErrNetwork on transport
// problems; ErrOrderRejected and ErrInsufficientBalance on declined
// orders; ErrNotFound on cancels of unknown orders.
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (PriceSnapshot, error)
	GetPosition(ctx context.Context, symbol string) (Position, error)
	GetBalance(ctx context.Context) (AccountBalance, error)
	PlaceOrder(ctx context.Context, intent OrderIntent) (orderID string, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// StreamFills delivers execution reports until ctx is done or the
	// connection drops (ErrWSDisconnect on the returned error channel).
	// Restartable after reconnect.
	StreamFills(ctx context.Context, symbol string) (<-chan FillEvent, <-chan error, error)
}

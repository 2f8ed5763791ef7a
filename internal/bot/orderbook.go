package bot

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// OrderBook is the in-memory authoritative view of this process's open
// orders and net position. It is mutated only by the tick loop's
// reconciliation step; everything else reads copies.
type OrderBook struct {
	symbol   string
	logger   *slog.Logger
	orders   map[string]domain.Order // keyed by exchange order id
	position domain.Position
}

// NewOrderBook creates an empty book for one symbol.
func NewOrderBook(symbol string, logger *slog.Logger) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		logger: logger.With(slog.String("component", "orderbook")),
		orders: make(map[string]domain.Order),
		position: domain.Position{
			Symbol: symbol,
		},
	}
}

// ApplyPlacement records a successfully submitted order.
func (b *OrderBook) ApplyPlacement(intent domain.OrderIntent, orderID string, now time.Time) {
	b.orders[orderID] = domain.Order{
		ID:        orderID,
		LinkID:    intent.LinkID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Type:      intent.Type,
		Price:     intent.Price,
		Size:      intent.Size,
		Status:    domain.OrderStatusOpen,
		Source:    intent.Source,
		CreatedAt: now,
	}
}

// ApplyCancel removes a cancelled order.
func (b *OrderBook) ApplyCancel(orderID string) {
	delete(b.orders, orderID)
}

// ApplyCancelAll clears every tracked order.
func (b *OrderBook) ApplyCancelAll() {
	b.orders = make(map[string]domain.Order)
}

// ApplyFill updates the affected order and nets the fill into the
// position. Average entry is maintained on increases; realized PnL on
// reductions.
func (b *OrderBook) ApplyFill(fill domain.FillEvent) {
	if o, ok := b.orders[fill.OrderID]; ok {
		o.FilledSize += fill.Size
		if o.AvgPrice == 0 {
			o.AvgPrice = fill.Price
		} else {
			o.AvgPrice = (o.AvgPrice*(o.FilledSize-fill.Size) + fill.Price*fill.Size) / o.FilledSize
		}
		if o.FilledSize >= o.Size-1e-12 {
			o.Status = domain.OrderStatusFilled
			ts := fill.Timestamp
			o.FilledAt = &ts
			delete(b.orders, fill.OrderID)
		} else {
			b.orders[fill.OrderID] = o
		}
	}

	signed := fill.Size
	if fill.Side == domain.OrderSideSell {
		signed = -fill.Size
	}

	p := &b.position
	switch {
	case p.Size == 0 || (p.Size > 0) == (signed > 0):
		// Opening or increasing: blend the entry price.
		total := p.Size + signed
		if total != 0 {
			p.EntryPrice = (p.EntryPrice*math.Abs(p.Size) + fill.Price*math.Abs(signed)) / math.Abs(total)
		}
		p.Size = total
	default:
		// Reducing or flipping.
		closed := math.Min(math.Abs(signed), math.Abs(p.Size))
		if p.Size > 0 {
			p.RealizedPnL += (fill.Price - p.EntryPrice) * closed
		} else {
			p.RealizedPnL += (p.EntryPrice - fill.Price) * closed
		}
		remaining := p.Size + signed
		if remaining == 0 {
			p.Size = 0
			p.EntryPrice = 0
		} else if (remaining > 0) == (p.Size > 0) {
			p.Size = remaining
		} else {
			// Flipped through zero: the excess opens at the fill price.
			p.Size = remaining
			p.EntryPrice = fill.Price
		}
	}
	p.UpdatedAt = fill.Timestamp
}

// Reconcile replaces the tracked state with the exchange's authoritative
// view. Local realized PnL is kept when the exchange reports none.
func (b *OrderBook) Reconcile(open []domain.Order, pos domain.Position) {
	fresh := make(map[string]domain.Order, len(open))
	for _, o := range open {
		fresh[o.ID] = o
	}
	for id := range b.orders {
		if _, ok := fresh[id]; !ok {
			b.logger.Debug("order dropped during reconcile", slog.String("order_id", id))
		}
	}
	b.orders = fresh

	if pos.RealizedPnL == 0 {
		pos.RealizedPnL = b.position.RealizedPnL
	}
	b.position = pos
}

// Position returns a copy of the net position.
func (b *OrderBook) Position() domain.Position { return b.position }

// SetPosition overwrites the position, used on checkpoint restore.
func (b *OrderBook) SetPosition(pos domain.Position) { b.position = pos }

// OpenOrders returns the tracked orders sorted by creation time.
func (b *OrderBook) OpenOrders() []domain.Order {
	out := make([]domain.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OpenCount returns the number of tracked live orders.
func (b *OrderBook) OpenCount() int { return len(b.orders) }

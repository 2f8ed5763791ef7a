package bot

import (
	"math"
	"testing"
	"time"

	"github.com/dmarchuk/gridbot/internal/domain"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func placeIntent(linkID string, side domain.OrderSide, price, size float64) domain.OrderIntent {
	return domain.OrderIntent{
		Kind:   domain.IntentPlace,
		LinkID: linkID,
		Symbol: "BTCUSDT",
		Side:   side,
		Type:   domain.OrderTypeLimit,
		Price:  price,
		Size:   size,
		Source: "grid",
	}
}

func fill(orderID string, side domain.OrderSide, price, size float64) domain.FillEvent {
	return domain.FillEvent{
		OrderID:   orderID,
		Symbol:    "BTCUSDT",
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOrderBookPlacementLifecycle(t *testing.T) {
	book := NewOrderBook("BTCUSDT", testLogger())
	now := time.Now()

	book.ApplyPlacement(placeIntent("a", domain.OrderSideBuy, 59000, 0.01), "ord-1", now)
	book.ApplyPlacement(placeIntent("b", domain.OrderSideSell, 61000, 0.01), "ord-2", now.Add(time.Second))

	if book.OpenCount() != 2 {
		t.Fatalf("open = %d, want 2", book.OpenCount())
	}
	orders := book.OpenOrders()
	if orders[0].ID != "ord-1" || orders[1].ID != "ord-2" {
		t.Errorf("orders not sorted by creation time: %v, %v", orders[0].ID, orders[1].ID)
	}

	book.ApplyCancel("ord-1")
	if book.OpenCount() != 1 {
		t.Errorf("open after cancel = %d, want 1", book.OpenCount())
	}

	book.ApplyCancelAll()
	if book.OpenCount() != 0 {
		t.Errorf("open after cancel-all = %d, want 0", book.OpenCount())
	}
}

func TestOrderBookFillRemovesCompletedOrder(t *testing.T) {
	book := NewOrderBook("BTCUSDT", testLogger())
	book.ApplyPlacement(placeIntent("a", domain.OrderSideBuy, 59000, 0.02), "ord-1", time.Now())

	book.ApplyFill(fill("ord-1", domain.OrderSideBuy, 59000, 0.01))
	if book.OpenCount() != 1 {
		t.Fatalf("partial fill removed the order")
	}
	book.ApplyFill(fill("ord-1", domain.OrderSideBuy, 59000, 0.01))
	if book.OpenCount() != 0 {
		t.Fatalf("completed order still tracked")
	}
}

func TestOrderBookPositionNetting(t *testing.T) {
	book := NewOrderBook("BTCUSDT", testLogger())

	// Two buys blend the entry price.
	book.ApplyFill(fill("x1", domain.OrderSideBuy, 60000, 0.01))
	book.ApplyFill(fill("x2", domain.OrderSideBuy, 58000, 0.01))
	pos := book.Position()
	if !approx(pos.Size, 0.02) || !approx(pos.EntryPrice, 59000) {
		t.Fatalf("after two buys: size=%v entry=%v, want 0.02 @ 59000", pos.Size, pos.EntryPrice)
	}

	// Selling half books realized PnL against the blended entry.
	book.ApplyFill(fill("x3", domain.OrderSideSell, 60000, 0.01))
	pos = book.Position()
	if !approx(pos.Size, 0.01) || !approx(pos.RealizedPnL, 10) {
		t.Fatalf("after reduce: size=%v pnl=%v, want 0.01 and 10", pos.Size, pos.RealizedPnL)
	}
	if !approx(pos.EntryPrice, 59000) {
		t.Errorf("reduce changed entry price: %v", pos.EntryPrice)
	}

	// Closing the rest leaves a flat book.
	book.ApplyFill(fill("x4", domain.OrderSideSell, 59500, 0.01))
	pos = book.Position()
	if !pos.Flat() || !approx(pos.RealizedPnL, 15) {
		t.Fatalf("after close: size=%v pnl=%v, want flat and 15", pos.Size, pos.RealizedPnL)
	}
}

func TestOrderBookFlipThroughZero(t *testing.T) {
	book := NewOrderBook("BTCUSDT", testLogger())
	book.ApplyFill(fill("x1", domain.OrderSideBuy, 60000, 0.01))

	// Selling 0.03 closes the long and opens a 0.02 short at the fill.
	book.ApplyFill(fill("x2", domain.OrderSideSell, 61000, 0.03))
	pos := book.Position()
	if !approx(pos.Size, -0.02) {
		t.Fatalf("size = %v, want -0.02", pos.Size)
	}
	if !approx(pos.EntryPrice, 61000) {
		t.Errorf("flipped entry = %v, want 61000", pos.EntryPrice)
	}
	if !approx(pos.RealizedPnL, 10) {
		t.Errorf("realized = %v, want 10", pos.RealizedPnL)
	}
}

func TestOrderBookReconcileKeepsRealizedPnL(t *testing.T) {
	book := NewOrderBook("BTCUSDT", testLogger())
	book.ApplyFill(fill("x1", domain.OrderSideBuy, 60000, 0.01))
	book.ApplyFill(fill("x2", domain.OrderSideSell, 61000, 0.01))

	exchangeView := domain.Position{Symbol: "BTCUSDT", Size: 0, RealizedPnL: 0}
	book.Reconcile([]domain.Order{{ID: "ord-9", Symbol: "BTCUSDT"}}, exchangeView)

	if book.OpenCount() != 1 {
		t.Errorf("open after reconcile = %d, want 1", book.OpenCount())
	}
	if !approx(book.Position().RealizedPnL, 10) {
		t.Errorf("realized after reconcile = %v, want local 10 kept", book.Position().RealizedPnL)
	}
}

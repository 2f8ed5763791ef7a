package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
	"github.com/dmarchuk/gridbot/internal/engine"
	"github.com/dmarchuk/gridbot/internal/risk"
)

type placedOrder struct {
	intent  domain.OrderIntent
	orderID string
}

// fakeExchange is an in-memory venue for tick-loop tests.
type fakeExchange struct {
	mu         sync.Mutex
	price      float64
	position   domain.Position
	balance    domain.AccountBalance
	placed     []placedOrder
	open       map[string]domain.Order
	cancelAlls int
	nextID     int
	rejectNext error

	fills    chan domain.FillEvent
	fillErrs chan error
}

func newFakeExchange(price, equity float64) *fakeExchange {
	return &fakeExchange{
		price:    price,
		position: domain.Position{Symbol: "BTCUSDT"},
		balance:  domain.AccountBalance{WalletBalance: equity, Equity: equity},
		open:     make(map[string]domain.Order),
		fills:    make(chan domain.FillEvent, 16),
		fillErrs: make(chan error, 1),
	}
}

func (f *fakeExchange) GetPrice(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.PriceSnapshot{Symbol: symbol, LastPrice: f.price, Timestamp: time.Now()}, nil
}

func (f *fakeExchange) GetPosition(ctx context.Context, symbol string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeExchange) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectNext != nil {
		err := f.rejectNext
		f.rejectNext = nil
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.placed = append(f.placed, placedOrder{intent: intent, orderID: id})
	if intent.Type == domain.OrderTypeLimit {
		f.open[id] = domain.Order{
			ID:     id,
			LinkID: intent.LinkID,
			Symbol: intent.Symbol,
			Side:   intent.Side,
			Type:   intent.Type,
			Price:  intent.Price,
			Size:   intent.Size,
			Status: domain.OrderStatusOpen,
			Source: intent.Source,
		}
	}
	return id, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[orderID]; !ok {
		return domain.ErrNotFound
	}
	delete(f.open, orderID)
	return nil
}

func (f *fakeExchange) CancelAll(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAlls++
	f.open = make(map[string]domain.Order)
	return nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Order, 0, len(f.open))
	for _, o := range f.open {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (f *fakeExchange) StreamFills(ctx context.Context, symbol string) (<-chan domain.FillEvent, <-chan error, error) {
	return f.fills, f.fillErrs, nil
}

func (f *fakeExchange) setMarket(price, equity float64, pos domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.balance = domain.AccountBalance{WalletBalance: equity, Equity: equity}
	f.position = pos
}

func (f *fakeExchange) placedOfSource(source string) []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []placedOrder
	for _, p := range f.placed {
		if p.intent.Source == source {
			out = append(out, p)
		}
	}
	return out
}

func newTestBot(t *testing.T, exch *fakeExchange) *Bot {
	t.Helper()
	cfg := config.Defaults()
	logger := testLogger()
	symbol := cfg.Trading.Symbol

	deps := Deps{
		Exchange: exch,
		Grid:     engine.NewGrid(cfg.Grid, symbol, logger),
		DCA:      engine.NewDCA(cfg.DCA, symbol, logger),
		Risk:     risk.NewManager(cfg.Risk, symbol, cfg.Trading.InitialCapital, logger),
	}
	return New(&cfg, deps, logger)
}

func TestBotStartSeedsGridAndFirstTickPlacesOrders(t *testing.T) {
	exch := newFakeExchange(60000, 1000)
	bot := newTestBot(t, exch)
	ctx := context.Background()

	if err := bot.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := bot.Tick(ctx); err != nil {
		t.Fatalf("Tick() = %v", err)
	}

	grid := exch.placedOfSource("grid")
	if len(grid) != 20 {
		t.Fatalf("grid orders placed = %d, want 20", len(grid))
	}
	var buys, sells int
	for _, p := range grid {
		switch p.intent.Side {
		case domain.OrderSideBuy:
			buys++
		case domain.OrderSideSell:
			sells++
		}
	}
	if buys != 10 || sells != 10 {
		t.Errorf("buys/sells = %d/%d, want 10/10", buys, sells)
	}
	if bot.book.OpenCount() != 20 {
		t.Errorf("book open = %d, want 20", bot.book.OpenCount())
	}

	// A second tick at the same price places nothing new.
	if err := bot.Tick(ctx); err != nil {
		t.Fatalf("second Tick() = %v", err)
	}
	if got := len(exch.placedOfSource("grid")); got != 20 {
		t.Errorf("grid orders after second tick = %d, want 20", got)
	}
}

func TestBotFillSpawnsReplacementOrder(t *testing.T) {
	exch := newFakeExchange(60000, 1000)
	bot := newTestBot(t, exch)
	ctx := context.Background()

	if err := bot.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := bot.Tick(ctx); err != nil {
		t.Fatalf("Tick() = %v", err)
	}

	// Fill the top buy level at 59640.
	var filled placedOrder
	for _, p := range exch.placedOfSource("grid") {
		if p.intent.Side == domain.OrderSideBuy && approx(p.intent.Price, 59640) {
			filled = p
		}
	}
	if filled.orderID == "" {
		t.Fatal("no buy order at 59640")
	}
	exch.mu.Lock()
	delete(exch.open, filled.orderID)
	exch.mu.Unlock()
	exch.fills <- domain.FillEvent{
		OrderID:   filled.orderID,
		LinkID:    filled.intent.LinkID,
		Symbol:    "BTCUSDT",
		Side:      domain.OrderSideBuy,
		Price:     59640,
		Size:      filled.intent.Size,
		Timestamp: time.Now(),
	}

	if err := bot.Tick(ctx); err != nil {
		t.Fatalf("Tick() after fill = %v", err)
	}

	placed := exch.placedOfSource("grid")
	if len(placed) != 21 {
		t.Fatalf("grid orders = %d, want 21 after replacement", len(placed))
	}
	repl := placed[20].intent
	wantPrice := 59640 * 1.005
	if repl.Side != domain.OrderSideSell || !approx(repl.Price, wantPrice) {
		t.Errorf("replacement = %s @ %v, want sell @ %v", repl.Side, repl.Price, wantPrice)
	}
}

func TestBotKillSwitchCancelsBeforeEngines(t *testing.T) {
	exch := newFakeExchange(60000, 1000)
	bot := newTestBot(t, exch)
	ctx := context.Background()

	if err := bot.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := bot.Tick(ctx); err != nil {
		t.Fatalf("Tick() = %v", err)
	}

	// Equity collapses to 790 against a 1000 peak: 21% drawdown.
	exch.setMarket(58000, 790, domain.Position{
		Symbol:        "BTCUSDT",
		Size:          0.05,
		EntryPrice:    60000,
		UnrealizedPnL: -100,
	})

	err := bot.Tick(ctx)
	if !errors.Is(err, domain.ErrKillSwitch) {
		t.Fatalf("Tick() = %v, want kill switch", err)
	}
	if exch.cancelAlls != 1 {
		t.Errorf("cancel-all calls = %d, want 1", exch.cancelAlls)
	}

	flatten := exch.placedOfSource("risk")
	if len(flatten) != 1 {
		t.Fatalf("risk orders = %d, want 1 flatten", len(flatten))
	}
	fl := flatten[0].intent
	if fl.Kind != domain.IntentFlatten || fl.Side != domain.OrderSideSell || !fl.ReduceOnly {
		t.Errorf("flatten intent = %+v", fl)
	}

	// No grid orders were placed on the kill-switch tick, and the
	// engines are torn down.
	if got := len(exch.placedOfSource("grid")); got != 20 {
		t.Errorf("grid orders = %d, want 20 (none after kill)", got)
	}
	if bot.book.OpenCount() != 0 {
		t.Errorf("book open = %d, want 0", bot.book.OpenCount())
	}
}

func TestBotRejectedPlacementRoutesBackToGrid(t *testing.T) {
	exch := newFakeExchange(60000, 1000)
	bot := newTestBot(t, exch)
	ctx := context.Background()

	if err := bot.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	exch.mu.Lock()
	exch.rejectNext = fmt.Errorf("venue: %w", domain.ErrOrderRejected)
	exch.mu.Unlock()

	if err := bot.Tick(ctx); err != nil {
		t.Fatalf("Tick() = %v", err)
	}
	if got := len(exch.placedOfSource("grid")); got != 19 {
		t.Fatalf("grid orders = %d, want 19 with one rejection", got)
	}

	// The rejected level retries on the next tick.
	if err := bot.Tick(ctx); err != nil {
		t.Fatalf("second Tick() = %v", err)
	}
	if got := len(exch.placedOfSource("grid")); got != 20 {
		t.Errorf("grid orders after retry = %d, want 20", got)
	}
}

// stepClock only moves when the test advances it.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBotWatchdogEscalatesStalledLoop(t *testing.T) {
	exch := newFakeExchange(60000, 1000)
	cfg := config.Defaults()
	logger := testLogger()
	symbol := cfg.Trading.Symbol
	clk := &stepClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}

	bot := New(&cfg, Deps{
		Exchange: exch,
		Grid:     engine.NewGrid(cfg.Grid, symbol, logger),
		DCA:      engine.NewDCA(cfg.DCA, symbol, logger),
		Risk:     risk.NewManager(cfg.Risk, symbol, cfg.Trading.InitialCapital, logger),
		Clock:    clk,
	}, logger)
	// Keep the tick ticker out of the picture so only the health check
	// can observe progress.
	bot.cfg.Supervisor.TickInterval.Duration = time.Hour
	bot.cfg.Supervisor.CheckInterval.Duration = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bot.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	clk.advance(time.Hour)

	err := bot.RunTicks(ctx)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("RunTicks() = %v, want timeout on stalled loop", err)
	}
	if bot.Health().Connection != domain.ConnReconnecting {
		t.Errorf("connection = %s, want reconnecting", bot.Health().Connection)
	}
}

func TestBotRunTicksStopsOnStreamError(t *testing.T) {
	exch := newFakeExchange(60000, 1000)
	bot := newTestBot(t, exch)
	bot.cfg.Supervisor.TickInterval.Duration = time.Millisecond

	ctx := context.Background()
	if err := bot.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	exch.fillErrs <- fmt.Errorf("ws: %w", domain.ErrWSDisconnect)

	err := bot.RunTicks(ctx)
	if !errors.Is(err, domain.ErrWSDisconnect) {
		t.Fatalf("RunTicks() = %v, want ws disconnect", err)
	}
	if bot.Health().Connection != domain.ConnReconnecting {
		t.Errorf("connection = %s, want reconnecting", bot.Health().Connection)
	}
}

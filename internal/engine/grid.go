// Package engine implements the grid and DCA trading engines. Both emit
// order intents from price ticks and fill events; neither talks to the
// exchange directly.
package engine

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
)

// Grid maintains a ladder of resting limit orders around a reference
// price. Levels below the reference are buys, levels above are sells; a
// filled level is replaced exactly once by an opposite-side level at the
// configured profit offset. The ladder is owned by this engine and is
// only mutated from the tick loop (single writer).
type Grid struct {
	cfg    config.GridConfig
	symbol string
	logger *slog.Logger

	levels      []domain.GridLevel
	nextIndex   int
	lower       float64
	upper       float64
	initialized bool
}

// NewGrid creates an uninitialized grid engine.
func NewGrid(cfg config.GridConfig, symbol string, logger *slog.Logger) *Grid {
	return &Grid{
		cfg:    cfg,
		symbol: symbol,
		logger: logger.With(slog.String("component", "grid")),
	}
}

// Initialize computes the ladder from the reference price. Explicit
// bounds from the configuration win; otherwise a symmetric band of
// range_percent around the reference is used. The band is divided into
// `levels` equal steps, producing levels+1 lattice points; the point
// coinciding with (or nearest to) the reference is skipped so the ladder
// has exactly `levels` entries and never quotes at the current price.
func (g *Grid) Initialize(referencePrice float64) error {
	if referencePrice <= 0 {
		return fmt.Errorf("grid: reference price must be positive, got %v", referencePrice)
	}

	lower, upper := g.cfg.LowerPrice, g.cfg.UpperPrice
	if lower <= 0 || upper <= 0 {
		band := referencePrice * g.cfg.RangePercent / 100
		lower = referencePrice - band
		upper = referencePrice + band
	}
	if lower >= upper {
		return fmt.Errorf("grid: invalid bounds [%v, %v]", lower, upper)
	}

	step := (upper - lower) / float64(g.cfg.Levels)

	// Index of the lattice point nearest the reference.
	skip := int(math.Round((referencePrice - lower) / step))
	if skip < 0 {
		skip = 0
	}
	if skip > g.cfg.Levels {
		skip = g.cfg.Levels
	}

	levels := make([]domain.GridLevel, 0, g.cfg.Levels)
	for i := 0; i <= g.cfg.Levels; i++ {
		if i == skip {
			continue
		}
		price := lower + float64(i)*step
		side := domain.OrderSideBuy
		if price > referencePrice {
			side = domain.OrderSideSell
		}
		levels = append(levels, domain.GridLevel{
			Index: len(levels),
			Price: price,
			Side:  side,
			Size:  g.cfg.OrderSize,
			State: domain.GridLevelPending,
		})
	}

	g.levels = levels
	g.nextIndex = len(levels)
	g.lower = lower
	g.upper = upper
	g.initialized = true

	g.logger.Info("grid initialized",
		slog.Float64("lower", lower),
		slog.Float64("upper", upper),
		slog.Float64("step", step),
		slog.Int("levels", len(levels)),
	)
	return nil
}

// Restore reloads a previously checkpointed ladder.
func (g *Grid) Restore(levels []domain.GridLevel) {
	g.levels = make([]domain.GridLevel, len(levels))
	copy(g.levels, levels)
	g.nextIndex = 0
	for _, lv := range g.levels {
		if lv.Index >= g.nextIndex {
			g.nextIndex = lv.Index + 1
		}
		if lv.Price < g.lower || g.lower == 0 {
			g.lower = lv.Price
		}
		if lv.Price > g.upper {
			g.upper = lv.Price
		}
	}
	g.initialized = len(g.levels) > 0
}

// Initialized reports whether the ladder has been built.
func (g *Grid) Initialized() bool { return g.initialized }

// OnTick consumes this tick's fill events and returns the order intents
// needed to keep the ladder armed: one replacement level per new fill,
// plus placements for every level that is pending or retryable.
func (g *Grid) OnTick(snap domain.PriceSnapshot, fills []domain.FillEvent) []domain.OrderIntent {
	if !g.initialized {
		return nil
	}

	for _, fill := range fills {
		g.applyFill(fill)
	}

	var intents []domain.OrderIntent
	for i := range g.levels {
		lv := &g.levels[i]
		switch lv.State {
		case domain.GridLevelPending:
		case domain.GridLevelCancelled:
			if lv.Retries >= g.cfg.MaxPlaceRetries {
				lv.State = domain.GridLevelParked
				g.logger.Warn("grid level parked after retries",
					slog.Int("level", lv.Index),
					slog.Float64("price", lv.Price),
				)
				continue
			}
		default:
			continue
		}

		if lv.LinkID == "" {
			lv.LinkID = uuid.NewString()
		}
		intents = append(intents, domain.OrderIntent{
			Kind:   domain.IntentPlace,
			LinkID: lv.LinkID,
			Symbol: g.symbol,
			Side:   lv.Side,
			Type:   domain.OrderTypeLimit,
			Price:  lv.Price,
			Size:   lv.Size,
			Source: "grid",
		})
	}
	return intents
}

// applyFill marks the matching open level as filled and appends exactly
// one opposite-side replacement at the profit offset. Fills that do not
// match a live level, or hit a level already in a terminal state, are
// ignored so a level can never be replaced twice from the same fill.
func (g *Grid) applyFill(fill domain.FillEvent) {
	for i := range g.levels {
		lv := &g.levels[i]
		if lv.State != domain.GridLevelOpen {
			continue
		}
		if (fill.OrderID == "" || lv.OrderID != fill.OrderID) && (fill.LinkID == "" || lv.LinkID != fill.LinkID) {
			continue
		}

		ts := fill.Timestamp
		lv.State = domain.GridLevelFilled
		lv.FillPrice = fill.Price
		lv.FilledAt = &ts

		offset := g.cfg.ProfitOffsetPercent / 100
		var price float64
		side := lv.Side.Opposite()
		if lv.Side == domain.OrderSideBuy {
			price = fill.Price * (1 + offset)
		} else {
			price = fill.Price * (1 - offset)
		}

		g.levels = append(g.levels, domain.GridLevel{
			Index: g.nextIndex,
			Price: price,
			Side:  side,
			Size:  lv.Size,
			State: domain.GridLevelPending,
		})
		g.nextIndex++

		g.logger.Info("grid level filled, replacement armed",
			slog.Int("level", lv.Index),
			slog.String("side", string(lv.Side)),
			slog.Float64("fill_price", fill.Price),
			slog.Float64("replacement_price", price),
		)
		return
	}
}

// ConfirmPlaced records the exchange order id for a submitted level.
func (g *Grid) ConfirmPlaced(linkID, orderID string) {
	for i := range g.levels {
		lv := &g.levels[i]
		if lv.LinkID == linkID {
			lv.OrderID = orderID
			lv.State = domain.GridLevelOpen
			return
		}
	}
}

// RejectPlaced records a declined placement. The level stays retryable
// until max_place_retries is exceeded, after which OnTick parks it.
func (g *Grid) RejectPlaced(linkID string, err error) {
	for i := range g.levels {
		lv := &g.levels[i]
		if lv.LinkID == linkID {
			lv.Retries++
			lv.State = domain.GridLevelCancelled
			lv.LinkID = ""
			g.logger.Warn("grid placement rejected",
				slog.Int("level", lv.Index),
				slog.Float64("price", lv.Price),
				slog.Int("retries", lv.Retries),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// Reset returns cancel intents for every live order and clears the
// ladder. Used on shutdown and on kill-switch.
func (g *Grid) Reset() []domain.OrderIntent {
	var intents []domain.OrderIntent
	for _, lv := range g.levels {
		if lv.State == domain.GridLevelOpen && lv.OrderID != "" {
			intents = append(intents, domain.OrderIntent{
				Kind:    domain.IntentCancel,
				OrderID: lv.OrderID,
				Symbol:  g.symbol,
				Source:  "grid",
			})
		}
	}
	g.levels = nil
	g.nextIndex = 0
	g.initialized = false
	return intents
}

// Levels returns a copy of the ladder for checkpointing and status.
func (g *Grid) Levels() []domain.GridLevel {
	out := make([]domain.GridLevel, len(g.levels))
	copy(out, g.levels)
	return out
}

// Bounds returns the resolved price band.
func (g *Grid) Bounds() (lower, upper float64) { return g.lower, g.upper }

// OpenCount returns the number of levels with a live order.
func (g *Grid) OpenCount() int {
	n := 0
	for _, lv := range g.levels {
		if lv.State == domain.GridLevelOpen {
			n++
		}
	}
	return n
}

// FilledCount returns the number of filled levels this session.
func (g *Grid) FilledCount() int {
	n := 0
	for _, lv := range g.levels {
		if lv.State == domain.GridLevelFilled {
			n++
		}
	}
	return n
}

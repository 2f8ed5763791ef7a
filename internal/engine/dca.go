package engine

import (
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
)

// DCA accumulates into an adverse move with geometrically scaled market
// entries. The trend reference ratchets down to the trigger price after
// each entry, so every further entry requires fresh adverse movement.
// Owned by the tick loop (single writer).
type DCA struct {
	cfg    config.DCAConfig
	symbol string
	logger *slog.Logger

	ladder   []domain.DCALadderEntry
	trendRef float64
}

// NewDCA creates a DCA engine with no reference price set.
func NewDCA(cfg config.DCAConfig, symbol string, logger *slog.Logger) *DCA {
	return &DCA{
		cfg:    cfg,
		symbol: symbol,
		logger: logger.With(slog.String("component", "dca")),
	}
}

// Initialize sets the trend reference to the first live price.
func (d *DCA) Initialize(referencePrice float64) {
	d.trendRef = referencePrice
}

// Restore reloads a previously checkpointed ladder and reference.
func (d *DCA) Restore(ladder []domain.DCALadderEntry, trendRef float64) {
	d.ladder = make([]domain.DCALadderEntry, len(ladder))
	copy(d.ladder, ladder)
	d.trendRef = trendRef
}

// OnTick evaluates displacement against the trend reference and returns
// at most one market order intent. Once max_orders entries exist,
// triggers are no-ops until the ladder resets. A recovery past
// recovery_percent above the reference clears the ladder.
func (d *DCA) OnTick(snap domain.PriceSnapshot) []domain.OrderIntent {
	if !d.cfg.Enabled || d.trendRef <= 0 {
		return nil
	}

	price := snap.LastPrice

	// Trend reversal: price recovered above the reference by the
	// configured threshold, the adverse leg is over.
	if len(d.ladder) > 0 && d.cfg.RecoveryPercent > 0 {
		recovery := d.trendRef * (1 + d.cfg.RecoveryPercent/100)
		if price >= recovery {
			d.logger.Info("trend recovered, clearing dca ladder",
				slog.Float64("price", price),
				slog.Float64("recovery", recovery),
				slog.Int("entries", len(d.ladder)),
			)
			d.Reset()
			d.trendRef = price
			return nil
		}
	}

	if len(d.ladder) >= d.cfg.MaxOrders {
		return nil
	}

	displacement := (d.trendRef - price) / d.trendRef * 100
	if displacement < d.cfg.TriggerPercent {
		return nil
	}

	seq := len(d.ladder) + 1
	size := d.cfg.OrderSize * math.Pow(d.cfg.ScalingFactor, float64(seq-1))
	entry := domain.DCALadderEntry{
		Sequence:     seq,
		TriggerPrice: price,
		Size:         size,
		LinkID:       uuid.NewString(),
		CreatedAt:    snap.Timestamp,
	}
	d.ladder = append(d.ladder, entry)

	// Ratchet: the next trigger needs a further adverse move from here.
	d.trendRef = price

	d.logger.Info("dca entry triggered",
		slog.Int("sequence", seq),
		slog.Float64("trigger_price", price),
		slog.Float64("size", size),
		slog.Float64("displacement_pct", displacement),
	)

	return []domain.OrderIntent{{
		Kind:   domain.IntentPlace,
		LinkID: entry.LinkID,
		Symbol: d.symbol,
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Size:   size,
		Source: "dca",
	}}
}

// ConfirmPlaced records the exchange order id for a submitted entry.
func (d *DCA) ConfirmPlaced(linkID, orderID string) {
	for i := range d.ladder {
		if d.ladder[i].LinkID == linkID {
			d.ladder[i].OrderID = orderID
			return
		}
	}
}

// RejectPlaced drops the entry whose placement was declined, freeing its
// slot in the ladder. The ratcheted reference is kept so the engine does
// not immediately re-trigger on the same displacement.
func (d *DCA) RejectPlaced(linkID string, err error) {
	for i := range d.ladder {
		if d.ladder[i].LinkID == linkID {
			d.logger.Warn("dca placement rejected",
				slog.Int("sequence", d.ladder[i].Sequence),
				slog.String("error", err.Error()),
			)
			d.ladder = append(d.ladder[:i], d.ladder[i+1:]...)
			return
		}
	}
}

// OnFill marks the matching ladder entry as filled.
func (d *DCA) OnFill(fill domain.FillEvent) {
	for i := range d.ladder {
		e := &d.ladder[i]
		if e.Filled {
			continue
		}
		if (fill.OrderID != "" && e.OrderID == fill.OrderID) || (fill.LinkID != "" && e.LinkID == fill.LinkID) {
			ts := fill.Timestamp
			e.Filled = true
			e.FillPrice = fill.Price
			e.FilledAt = &ts
			return
		}
	}
}

// Reset clears the ladder. Market entries have no resting orders to
// cancel, so no intents are produced.
func (d *DCA) Reset() {
	d.ladder = nil
}

// Ladder returns a copy of the ladder for checkpointing and status.
func (d *DCA) Ladder() []domain.DCALadderEntry {
	out := make([]domain.DCALadderEntry, len(d.ladder))
	copy(out, d.ladder)
	return out
}

// TrendReference returns the current ratcheted reference price.
func (d *DCA) TrendReference() float64 { return d.trendRef }

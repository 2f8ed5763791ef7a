package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// TradeHandler serves the persisted execution history.
type TradeHandler struct {
	trades domain.TradeStore
	symbol string
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler for the configured symbol.
func NewTradeHandler(trades domain.TradeStore, symbol string, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, symbol: symbol, logger: logger}
}

type tradeResponse struct {
	ID        int64            `json:"id"`
	OrderID   string           `json:"order_id"`
	ExecID    string           `json:"exec_id,omitempty"`
	Symbol    string           `json:"symbol"`
	Side      domain.OrderSide `json:"side"`
	Price     float64          `json:"price"`
	Size      float64          `json:"size"`
	Fee       float64          `json:"fee"`
	Source    string           `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
}

// ListTrades responds with recent executions, newest first.
// GET /api/trades?limit=&offset=&since=&until=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := h.trades.List(r.Context(), h.symbol, opts)
	if err != nil {
		logHandler(h.logger, "trades").ErrorContext(r.Context(), "list trades", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	resp := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		resp = append(resp, tradeResponse{
			ID:        t.ID,
			OrderID:   t.OrderID,
			ExecID:    t.ExecID,
			Symbol:    t.Symbol,
			Side:      t.Side,
			Price:     t.Price,
			Size:      t.Size,
			Fee:       t.Fee,
			Source:    t.Source,
			Timestamp: t.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trades": resp,
		"count":  len(resp),
	})
}

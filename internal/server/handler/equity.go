package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// EquityHandler serves the per-tick equity history.
type EquityHandler struct {
	equities domain.EquityStore
	logger   *slog.Logger
}

// NewEquityHandler creates an EquityHandler.
func NewEquityHandler(equities domain.EquityStore, logger *slog.Logger) *EquityHandler {
	return &EquityHandler{equities: equities, logger: logger}
}

type equityResponse struct {
	ID              int64     `json:"id"`
	Balance         float64   `json:"balance"`
	Equity          float64   `json:"equity"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	RealizedPnL     float64   `json:"realized_pnl"`
	DrawdownPercent float64   `json:"drawdown_percent"`
	MarginRatio     float64   `json:"margin_ratio"`
	Timestamp       time.Time `json:"timestamp"`
}

func toEquityResponse(s domain.EquitySnapshot) equityResponse {
	return equityResponse{
		ID:              s.ID,
		Balance:         s.Balance,
		Equity:          s.Equity,
		UnrealizedPnL:   s.UnrealizedPnL,
		RealizedPnL:     s.RealizedPnL,
		DrawdownPercent: s.DrawdownPercent,
		MarginRatio:     s.MarginRatio,
		Timestamp:       s.Timestamp,
	}
}

// ListEquity responds with equity snapshots, newest first.
// GET /api/equity?limit=&offset=&since=&until=
func (h *EquityHandler) ListEquity(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snaps, err := h.equities.List(r.Context(), opts)
	if err != nil {
		logHandler(h.logger, "equity").ErrorContext(r.Context(), "list equity", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list equity history")
		return
	}

	resp := make([]equityResponse, 0, len(snaps))
	for _, s := range snaps {
		resp = append(resp, toEquityResponse(s))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": resp,
		"count":     len(resp),
	})
}

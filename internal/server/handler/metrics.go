package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// MetricsHandler serves headline performance figures derived from the
// latest equity snapshot.
type MetricsHandler struct {
	equities       domain.EquityStore
	initialCapital float64
	logger         *slog.Logger
}

// NewMetricsHandler creates a MetricsHandler. initialCapital is the
// configured session starting capital used for the return calculation.
func NewMetricsHandler(equities domain.EquityStore, initialCapital float64, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{equities: equities, initialCapital: initialCapital, logger: logger}
}

// GetMetrics responds with return, drawdown and PnL figures.
// GET /api/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.equities.Latest(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no equity history yet")
			return
		}
		logHandler(h.logger, "metrics").ErrorContext(r.Context(), "load latest equity", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load metrics")
		return
	}

	returnPct := 0.0
	if h.initialCapital > 0 {
		returnPct = (snap.Equity - h.initialCapital) / h.initialCapital * 100
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"initial_capital":  h.initialCapital,
		"equity":           snap.Equity,
		"balance":          snap.Balance,
		"return_percent":   returnPct,
		"unrealized_pnl":   snap.UnrealizedPnL,
		"realized_pnl":     snap.RealizedPnL,
		"drawdown_percent": snap.DrawdownPercent,
		"margin_ratio":     snap.MarginRatio,
		"timestamp":        snap.Timestamp,
	})
}

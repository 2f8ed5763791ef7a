package handler

import (
	"net/http"

	"github.com/dmarchuk/gridbot/internal/bot"
	"github.com/dmarchuk/gridbot/internal/domain"
)

// StatusHandler serves the live session status: supervisor lifecycle
// state, tick-loop health, position, risk state and the latest equity
// snapshot.
type StatusHandler struct {
	sup      *bot.Supervisor
	bot      *bot.Bot
	equities domain.EquityStore
}

// NewStatusHandler creates a StatusHandler over the running supervisor
// and bot. equities may be nil when persistence is disabled.
func NewStatusHandler(sup *bot.Supervisor, b *bot.Bot, equities domain.EquityStore) *StatusHandler {
	return &StatusHandler{sup: sup, bot: b, equities: equities}
}

// GetStatus responds with the current session state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.bot.Snapshot()

	resp := map[string]any{
		"state":       string(h.sup.State()),
		"health":      h.sup.Health(),
		"symbol":      snap.Symbol,
		"position":    snap.Position,
		"risk":        snap.Risk,
		"grid_levels": len(snap.GridLevels),
		"dca_rungs":   len(snap.DCALadder),
	}

	if h.equities != nil {
		if eq, err := h.equities.Latest(r.Context()); err == nil {
			resp["equity"] = eq
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Package handlers provides HTTP handlers for market session queries.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
)

// Handler handles market hours HTTP requests.
type Handler struct {
	calendar *market_hours.Calendar
	log      zerolog.Logger
}

// NewHandler creates a new market hours handler.
func NewHandler(calendar *market_hours.Calendar, log zerolog.Logger) *Handler {
	return &Handler{
		calendar: calendar,
		log:      log.With().Str("handler", "market_hours").Logger(),
	}
}

// HandleGetPhase handles GET /api/market/phase.
// An optional `at` query parameter (RFC3339) resolves a historical instant.
func (h *Handler) HandleGetPhase(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid at parameter, expected RFC3339", http.StatusBadRequest)
			return
		}
		at = parsed
	}

	phase := h.calendar.GetPhase(at)
	next := h.calendar.NextTransition(at)

	h.writeJSON(w, map[string]interface{}{
		"phase":           phase,
		"is_open":         phase == domain.PhaseOpen,
		"at":              at.In(h.calendar.Location()).Format(time.RFC3339),
		"timezone":        h.calendar.Location().String(),
		"next_transition": next.Format(time.RFC3339),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

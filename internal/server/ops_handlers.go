package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/heartbeat"
	"github.com/swap2you/chakraops-sub000/internal/market_regime"
	"github.com/swap2you/chakraops-sub000/internal/modules/freeze"
)

// FreezeHandlers serves the EOD freeze trigger and freeze state reads.
type FreezeHandlers struct {
	svc   *freeze.Service
	state *freeze.StateRepository
	log   zerolog.Logger
}

// NewFreezeHandlers creates the freeze handler set.
func NewFreezeHandlers(svc *freeze.Service, state *freeze.StateRepository, log zerolog.Logger) *FreezeHandlers {
	return &FreezeHandlers{
		svc:   svc,
		state: state,
		log:   log.With().Str("module", "freeze_handlers").Logger(),
	}
}

// RegisterRoutes registers the freeze routes.
func (h *FreezeHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/freeze", func(r chi.Router) {
		r.Post("/eod", h.HandleFreezeEOD)
		r.Get("/state", h.HandleState)
		r.Delete("/", h.HandleClear)
	})
}

// HandleFreezeEOD runs the end-of-day freeze ritual.
// POST /api/freeze/eod
func (h *FreezeHandlers) HandleFreezeEOD(w http.ResponseWriter, r *http.Request) {
	var opts freeze.Options
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.svc.FreezeEOD(r.Context(), opts)
	if err != nil {
		writeError(w, h.log, err, "Freeze failed")
		return
	}
	writeJSON(w, h.log, result)
}

// HandleState returns the persisted config-hash state.
// GET /api/freeze/state
func (h *FreezeHandlers) HandleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.Get()
	if err != nil {
		writeError(w, h.log, err, "Failed to read freeze state")
		return
	}
	if state == nil {
		http.Error(w, "No freeze state recorded yet", http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, state)
}

// HandleClear drops the frozen decision copy.
// DELETE /api/freeze
func (h *FreezeHandlers) HandleClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.svc.ClearFrozen()
	if err != nil {
		writeError(w, h.log, err, "Failed to clear frozen decision")
		return
	}
	writeJSON(w, h.log, map[string]interface{}{"cleared": cleared})
}

// RegimeHandlers serves regime reads.
type RegimeHandlers struct {
	detector *market_regime.Detector
	log      zerolog.Logger
}

// NewRegimeHandlers creates the regime handler set.
func NewRegimeHandlers(detector *market_regime.Detector, log zerolog.Logger) *RegimeHandlers {
	return &RegimeHandlers{
		detector: detector,
		log:      log.With().Str("module", "regime_handlers").Logger(),
	}
}

// RegisterRoutes registers the regime routes.
func (h *RegimeHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/market/regime", h.HandleLatest)
}

// HandleLatest returns the most recent regime record.
// GET /api/market/regime
func (h *RegimeHandlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.detector.Latest()
	if err != nil {
		writeError(w, h.log, err, "Failed to read regime")
		return
	}
	if rec == nil {
		http.Error(w, "No regime has been computed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, map[string]interface{}{
		"record":      rec,
		"age_minutes": rec.Age(time.Now()).Minutes(),
	})
}

// AlertHandlers serves alert reads.
type AlertHandlers struct {
	repo *heartbeat.AlertRepository
	log  zerolog.Logger
}

// NewAlertHandlers creates the alert handler set.
func NewAlertHandlers(repo *heartbeat.AlertRepository, log zerolog.Logger) *AlertHandlers {
	return &AlertHandlers{
		repo: repo,
		log:  log.With().Str("module", "alert_handlers").Logger(),
	}
}

// RegisterRoutes registers the alert routes.
func (h *AlertHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/alerts", h.HandleList)
}

// HandleList returns recent alerts, newest first. `since` (RFC3339) filters;
// `limit` caps (default 100).
// GET /api/alerts
func (h *AlertHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid since parameter, expected RFC3339", http.StatusBadRequest)
			return
		}
		alerts, err := h.repo.ListSince(since)
		if err != nil {
			writeError(w, h.log, err, "Failed to list alerts")
			return
		}
		writeJSON(w, h.log, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}
	alerts, err := h.repo.List(limit)
	if err != nil {
		writeError(w, h.log, err, "Failed to list alerts")
		return
	}
	writeJSON(w, h.log, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

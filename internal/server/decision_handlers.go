package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/evaluation"
	"github.com/swap2you/chakraops-sub000/internal/heartbeat"
	"github.com/swap2you/chakraops-sub000/internal/modules/decisions"
	"github.com/swap2you/chakraops-sub000/internal/modules/freeze"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
)

// DecisionHandlers serves decision reads and manual evaluation triggers.
type DecisionHandlers struct {
	store    *decisions.Store
	engine   *evaluation.Engine
	guard    *freeze.Guard
	calendar *market_hours.Calendar
	universe *universe.Service
	worker   *heartbeat.Worker
	log      zerolog.Logger
}

// NewDecisionHandlers creates the decision handler set.
func NewDecisionHandlers(store *decisions.Store, engine *evaluation.Engine, guard *freeze.Guard, calendar *market_hours.Calendar, uni *universe.Service, worker *heartbeat.Worker, log zerolog.Logger) *DecisionHandlers {
	return &DecisionHandlers{
		store:    store,
		engine:   engine,
		guard:    guard,
		calendar: calendar,
		universe: uni,
		worker:   worker,
		log:      log.With().Str("module", "decision_handlers").Logger(),
	}
}

// RegisterRoutes registers the decision, evaluation and scheduler routes.
func (h *DecisionHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/decision", func(r chi.Router) {
		r.Get("/latest", h.HandleLatest)
		r.Get("/active", h.HandleActive)
		r.Get("/frozen", h.HandleFrozen)
		r.Get("/history", h.HandleHistoryList)
		r.Get("/history/{runID}", h.HandleHistoryRun)
		r.Get("/symbol/{symbol}", h.HandleSymbol)
	})
	r.Post("/evaluate", h.HandleEvaluate)
	r.Post("/evaluate/{symbol}/merge", h.HandleEvaluateMerge)
	r.Route("/scheduler", func(r chi.Router) {
		r.Post("/run-once", h.HandleRunOnce)
		r.Get("/health", h.HandleSchedulerHealth)
	})
}

// HandleLatest returns the canonical latest decision, ignoring freeze.
// GET /api/decision/latest
func (h *DecisionHandlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.store.ReloadFromDisk()
	h.writeArtifact(w, artifact, err, "no decision has been produced yet")
}

// HandleActive returns the decision consumers should act on: the frozen copy
// outside market hours when one exists, otherwise the latest.
// GET /api/decision/active
func (h *DecisionHandlers) HandleActive(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.store.GetLatest()
	h.writeArtifact(w, artifact, err, "no decision has been produced yet")
}

// HandleFrozen returns the frozen end-of-day copy.
// GET /api/decision/frozen
func (h *DecisionHandlers) HandleFrozen(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.store.GetFrozen()
	h.writeArtifact(w, artifact, err, "no frozen decision exists")
}

// HandleHistoryList returns recent run ids, newest first.
// GET /api/decision/history?limit=N
func (h *DecisionHandlers) HandleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
	}
	runs, err := h.store.ListHistory(limit)
	if err != nil {
		writeError(w, h.log, err, "Failed to list decision history")
		return
	}
	writeJSON(w, h.log, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// HandleHistoryRun returns one archived run.
// GET /api/decision/history/{runID}
func (h *DecisionHandlers) HandleHistoryRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	artifact, err := h.store.GetRun(runID)
	h.writeArtifact(w, artifact, err, fmt.Sprintf("run %s not found in history", runID))
}

// HandleSymbol returns the active artifact sliced to one symbol.
// GET /api/decision/symbol/{symbol}
func (h *DecisionHandlers) HandleSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	view, err := h.store.GetSymbol(symbol)
	if err != nil {
		writeError(w, h.log, err, "Failed to read decision")
		return
	}
	if view == nil {
		http.Error(w, fmt.Sprintf("Symbol %s not in the active decision", symbol), http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, view)
}

// EvaluateRequest is the body for a manual evaluation.
type EvaluateRequest struct {
	Symbols []string `json:"symbols,omitempty"`
	Force   bool     `json:"force,omitempty"`
}

// HandleEvaluate runs a full evaluation and persists the result. Outside the
// OPEN phase the write gate refuses unless force is set.
// POST /api/evaluate
func (h *DecisionHandlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	phase := h.calendar.GetPhase(time.Now())
	if err := h.guard.CheckWrite(phase, req.Force, "manual evaluation"); err != nil {
		writeError(w, h.log, err, "Evaluation refused")
		return
	}

	symbols := domain.NormalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		var err error
		if symbols, err = h.universe.EffectiveSymbols(); err != nil {
			writeError(w, h.log, err, "Failed to resolve universe")
			return
		}
	}

	artifact, err := h.engine.EvaluateUniverse(r.Context(), symbols)
	if err != nil {
		writeError(w, h.log, err, "Evaluation failed")
		return
	}
	if err := h.store.SetLatest(artifact); err != nil {
		writeError(w, h.log, err, "Failed to persist decision")
		return
	}
	writeJSON(w, h.log, artifact)
}

// HandleEvaluateMerge re-evaluates one symbol and merges it into the active
// artifact.
// POST /api/evaluate/{symbol}/merge
func (h *DecisionHandlers) HandleEvaluateMerge(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	force := r.URL.Query().Get("force") == "true"

	phase := h.calendar.GetPhase(time.Now())
	if err := h.guard.CheckWrite(phase, force, "single-symbol merge"); err != nil {
		writeError(w, h.log, err, "Evaluation refused")
		return
	}

	current, err := h.store.GetLatest()
	if err != nil {
		writeError(w, h.log, err, "Failed to read active decision")
		return
	}
	if current == nil {
		http.Error(w, "No active decision to merge into", http.StatusNotFound)
		return
	}

	merged, err := h.engine.EvaluateSymbolAndMerge(r.Context(), symbol, current)
	if err != nil {
		writeError(w, h.log, err, "Merge evaluation failed")
		return
	}
	if err := h.store.SetLatest(merged); err != nil {
		writeError(w, h.log, err, "Failed to persist decision")
		return
	}
	writeJSON(w, h.log, merged)
}

// RunOnceRequest is the body for a manual scheduler cycle.
type RunOnceRequest struct {
	Force bool `json:"force,omitempty"`
}

// HandleRunOnce triggers one synchronous heartbeat cycle.
// POST /api/scheduler/run-once
func (h *DecisionHandlers) HandleRunOnce(w http.ResponseWriter, r *http.Request) {
	var req RunOnceRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result := h.worker.RunOnce(r.Context(), req.Force)
	if !result.Started {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(result)
		return
	}
	writeJSON(w, h.log, map[string]interface{}{
		"result": result,
		"health": h.worker.Health(),
	})
}

// HandleSchedulerHealth returns the heartbeat's last-cycle state.
// GET /api/scheduler/health
func (h *DecisionHandlers) HandleSchedulerHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, h.worker.Health())
}

func (h *DecisionHandlers) writeArtifact(w http.ResponseWriter, artifact *domain.DecisionArtifact, err error, missing string) {
	if err != nil {
		writeError(w, h.log, err, "Failed to read decision")
		return
	}
	if artifact == nil {
		http.Error(w, missing, http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, artifact)
}

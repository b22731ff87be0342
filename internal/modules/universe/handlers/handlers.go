// Package handlers provides HTTP handlers for universe management.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
)

// UniverseHandlers contains HTTP handlers for the universe API.
type UniverseHandlers struct {
	service *universe.Service
	log     zerolog.Logger
}

// NewUniverseHandlers creates a new universe handlers instance.
func NewUniverseHandlers(service *universe.Service, log zerolog.Logger) *UniverseHandlers {
	return &UniverseHandlers{
		service: service,
		log:     log.With().Str("module", "universe_handlers").Logger(),
	}
}

// HandleList returns all universe entries.
// GET /api/universe
func (h *UniverseHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list universe")
		http.Error(w, "Failed to list universe", http.StatusInternalServerError)
		return
	}

	effective, err := h.service.EffectiveSymbols()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute effective universe")
		http.Error(w, "Failed to list universe", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"entries":           entries,
		"effective_symbols": effective,
		"benchmarks":        h.service.Benchmarks(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// HandleGet returns one universe entry.
// GET /api/universe/{symbol}
func (h *UniverseHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	entry, err := h.service.Get(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch universe entry")
		http.Error(w, "Failed to fetch entry", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, fmt.Sprintf("Symbol %s not in universe", symbol), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}

// UpsertRequest is the body for adding or updating a universe entry.
type UpsertRequest struct {
	Symbol   string `json:"symbol"`
	Enabled  *bool  `json:"enabled"`
	Priority int    `json:"priority"`
	Notes    string `json:"notes"`
}

// HandleUpsert adds or updates a universe entry.
// POST /api/universe
func (h *UniverseHandlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	entry := universe.Entry{
		Symbol:   req.Symbol,
		Enabled:  enabled,
		Priority: req.Priority,
		Notes:    req.Notes,
	}
	if err := h.service.Add(entry); err != nil {
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Failed to upsert universe entry")
		http.Error(w, "Failed to upsert entry", http.StatusInternalServerError)
		return
	}

	stored, err := h.service.Get(req.Symbol)
	if err != nil || stored == nil {
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Failed to re-read upserted entry")
		http.Error(w, "Failed to upsert entry", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"message": fmt.Sprintf("Symbol %s upserted", stored.Symbol),
		"entry":   stored,
	})
}

// EnableRequest is the body for toggling a universe entry.
type EnableRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleSetEnabled enables or disables a symbol.
// PATCH /api/universe/{symbol}
func (h *UniverseHandlers) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var req EnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ok, err := h.service.SetEnabled(symbol, req.Enabled)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to toggle universe entry")
		http.Error(w, "Failed to update entry", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, fmt.Sprintf("Symbol %s not in universe", symbol), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"message": fmt.Sprintf("Symbol %s updated", symbol),
		"enabled": req.Enabled,
	})
}

// HandleDelete removes a non-benchmark symbol from the universe.
// DELETE /api/universe/{symbol}
func (h *UniverseHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	removed, err := h.service.Remove(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to remove universe entry")
		http.Error(w, "Failed to remove entry", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, fmt.Sprintf("Symbol %s not in universe or is a benchmark", symbol), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"message": fmt.Sprintf("Symbol %s removed", symbol),
	})
}

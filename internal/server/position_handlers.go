package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/modules/positions"
)

// PositionHandlers serves the paper-position CRUD.
type PositionHandlers struct {
	svc *positions.Service
	log zerolog.Logger
}

// NewPositionHandlers creates the position handler set.
func NewPositionHandlers(svc *positions.Service, log zerolog.Logger) *PositionHandlers {
	return &PositionHandlers{
		svc: svc,
		log: log.With().Str("module", "position_handlers").Logger(),
	}
}

// RegisterRoutes registers the position routes.
func (h *PositionHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/positions", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleOpen)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/close", h.HandleClose)
		r.Delete("/{id}", h.HandleDelete)
	})
}

// HandleList returns positions, optionally filtered by ?status=OPEN|CLOSED.
// GET /api/positions
func (h *PositionHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	list, err := h.svc.List(status)
	if err != nil {
		writeError(w, h.log, err, "Failed to list positions")
		return
	}
	writeJSON(w, h.log, map[string]interface{}{"positions": list, "count": len(list)})
}

// HandleOpen records a new paper position.
// POST /api/positions
func (h *PositionHandlers) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req positions.Position
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opened, err := h.svc.Open(req)
	if err != nil {
		writeError(w, h.log, err, "Failed to open position")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(opened)
}

// HandleGet returns one position.
// GET /api/positions/{id}
func (h *PositionHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pos, err := h.svc.Get(id)
	if err != nil {
		writeError(w, h.log, err, "Failed to fetch position")
		return
	}
	if pos == nil {
		http.Error(w, fmt.Sprintf("Position %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, pos)
}

// HandleClose marks a position closed.
// POST /api/positions/{id}/close
func (h *PositionHandlers) HandleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	closed, err := h.svc.Close(id)
	if err != nil {
		writeError(w, h.log, err, "Failed to close position")
		return
	}
	if closed == nil {
		http.Error(w, fmt.Sprintf("Position %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, closed)
}

// HandleDelete removes a position record.
// DELETE /api/positions/{id}
func (h *PositionHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.svc.Delete(id)
	if err != nil {
		writeError(w, h.log, err, "Failed to delete position")
		return
	}
	if !removed {
		http.Error(w, fmt.Sprintf("Position %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, map[string]interface{}{"deleted": id})
}

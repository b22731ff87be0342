// Package handlers provides HTTP handlers for snapshot inspection and
// builds.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
)

// SnapshotHandlers contains HTTP handlers for the snapshots API.
type SnapshotHandlers struct {
	builder *snapshots.Builder
	repo    *snapshots.Repository
	log     zerolog.Logger
}

// NewSnapshotHandlers creates a new snapshot handlers instance.
func NewSnapshotHandlers(builder *snapshots.Builder, repo *snapshots.Repository, log zerolog.Logger) *SnapshotHandlers {
	return &SnapshotHandlers{
		builder: builder,
		repo:    repo,
		log:     log.With().Str("module", "snapshot_handlers").Logger(),
	}
}

// HandleList returns stored snapshots, newest first.
// GET /api/snapshots
func (h *SnapshotHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(50)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list snapshots")
		http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
		return
	}
	active, err := h.repo.GetActive()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read active snapshot")
		http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"snapshots": list,
		"count":     len(list),
	}
	if active != nil {
		response["active_id"] = active.ID
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// HandleActive returns the current active snapshot.
// GET /api/snapshots/active
func (h *SnapshotHandlers) HandleActive(w http.ResponseWriter, r *http.Request) {
	snap, err := h.repo.GetActive()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read active snapshot")
		http.Error(w, "Failed to read active snapshot", http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "No active snapshot", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// HandleGet returns one snapshot's metadata.
// GET /api/snapshots/{id}
func (h *SnapshotHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.repo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("snapshot_id", id).Msg("Failed to fetch snapshot")
		http.Error(w, "Failed to fetch snapshot", http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, fmt.Sprintf("Snapshot %s not found", id), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// HandlePrices returns the last-row price view for one snapshot.
// GET /api/snapshots/{id}/prices
func (h *SnapshotHandlers) HandlePrices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.repo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("snapshot_id", id).Msg("Failed to fetch snapshot")
		http.Error(w, "Failed to fetch snapshot", http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, fmt.Sprintf("Snapshot %s not found", id), http.StatusNotFound)
		return
	}

	prices, err := h.repo.GetPrices(id)
	if err != nil {
		h.log.Error().Err(err).Str("snapshot_id", id).Msg("Failed to load snapshot prices")
		http.Error(w, "Failed to load prices", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"snapshot_id": id,
		"prices":      prices,
	})
}

// BuildRequest is the body for triggering a snapshot build.
type BuildRequest struct {
	Mode string `json:"mode"`
}

// HandleBuild runs a snapshot build. Mode defaults to AUTO.
// POST /api/snapshots/build
func (h *SnapshotHandlers) HandleBuild(w http.ResponseWriter, r *http.Request) {
	mode := snapshots.ModeAuto
	if r.Body != nil && r.ContentLength != 0 {
		var req BuildRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		switch snapshots.BuildMode(req.Mode) {
		case snapshots.ModeCSV, snapshots.ModeCache, snapshots.ModeAuto:
			mode = snapshots.BuildMode(req.Mode)
		case "":
		default:
			http.Error(w, fmt.Sprintf("Unknown build mode %q", req.Mode), http.StatusBadRequest)
			return
		}
	}

	result, err := h.builder.Build(mode)
	if err != nil {
		var srcErr *domain.SnapshotSourceError
		if errors.As(err, &srcErr) {
			http.Error(w, srcErr.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("mode", string(mode)).Msg("Snapshot build failed")
		http.Error(w, "Snapshot build failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// writeJSON encodes a payload with the standard content type.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps typed domain errors to HTTP statuses. Unrecognized errors
// become 500s with the generic message; the specifics go to the log only.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error, generic string) {
	var (
		cfgErr *domain.ConfigError
		frzErr *domain.FreezeViolation
		lcErr  *domain.LifecycleError
		srcErr *domain.SnapshotSourceError
	)
	switch {
	case errors.As(err, &cfgErr):
		http.Error(w, cfgErr.Error(), http.StatusBadRequest)
	case errors.As(err, &srcErr):
		http.Error(w, srcErr.Error(), http.StatusBadRequest)
	case errors.As(err, &frzErr):
		http.Error(w, frzErr.Error(), http.StatusConflict)
	case errors.As(err, &lcErr):
		http.Error(w, lcErr.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg(generic)
		http.Error(w, generic, http.StatusInternalServerError)
	}
}

package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the snapshot routes.
func (h *SnapshotHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/build", h.HandleBuild)
		r.Get("/active", h.HandleActive)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/prices", h.HandlePrices)
	})
}

package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the market session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		r.Get("/phase", h.HandleGetPhase)
	})
}

package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the local API router for the UI collaborator.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)

		r.Post("/operations", h.Enqueue)
		r.Post("/sync", h.TriggerSync)

		r.Get("/conflicts", h.Conflicts)
		r.Post("/conflicts/{operationID}/resolve", h.ResolveConflict)

		r.Post("/sessions", h.MergeSession)
		r.Get("/profile", h.Profile)
		r.Get("/profile/export", h.ExportProfile)
		r.Post("/profile/import", h.ImportProfile)
	})

	return r
}

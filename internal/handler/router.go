package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter mounts the observer API and the event stream
func NewRouter(h *GraphHandler, events http.Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(CORS)
	r.Use(RequestLogger(logger))

	r.Get("/health", h.Health)
	if events != nil {
		r.Handle("/events", events)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/graph", h.GetGraph)
		r.Get("/branches", h.GetBranches)
		r.Get("/jobs", h.GetJobs)
		r.Get("/collaborators", h.GetCollaborators)

		r.Post("/nodes", h.CreateNode)
		r.Route("/nodes/{id}", func(r chi.Router) {
			r.Get("/inputs", h.GetInputs)
			r.Put("/data", h.UpdateNodeData)
			r.Put("/position", h.MoveNode)
			r.Delete("/", h.DeleteNode)
			r.Post("/generate", h.Generate)
			r.Post("/extend", h.Extend)
			r.Post("/stitch", h.Stitch)
		})

		r.Post("/connections", h.CreateConnection)
		r.Delete("/connections/{id}", h.DeleteConnection)

		r.Route("/collab", func(r chi.Router) {
			r.Post("/reconnect", h.Reconnect)
			r.Post("/cursor", h.SendCursor)
			r.Post("/select", h.SelectNode)
		})
	})

	return r
}

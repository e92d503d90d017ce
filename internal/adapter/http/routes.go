package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. ws is the
// WebSocket upgrade handler; nil disables the /ws endpoint.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", h.CreateTask)
		r.Post("/tasks/parallel", h.CreateTasksParallel)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Delete("/tasks/{id}", h.CancelTask)

		r.Get("/history", h.ListHistory)
		r.Get("/stats", h.GetStats)
	})

	if ws != nil {
		r.Get("/ws", ws)
	}
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/connection", s.handleConnection)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/bridges", func(r chi.Router) {
			r.Get("/", s.handleListBridges)
			r.Get("/{index}", s.handleGetBridge)
		})
	})

	return r
}

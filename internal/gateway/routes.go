package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware(s.cfg.Server.AllowedOrigins))
	r.Use(loggingMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/handoff", func(r chi.Router) {
		r.Get("/config", s.handleClientConfig)
		r.Get("/availability", s.handleAvailability)

		// Vendor webhooks authenticate with their own shared secrets.
		r.Post("/zendesk/webhook/{agentID}", s.handleZendeskWebhook)
		r.Post("/front/webhook/{agentID}", s.handleFrontWebhook)

		r.Route("/{vendor}", func(r chi.Router) {
			r.Get("/messages", s.handleStream)
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)
				r.Post("/conversations", s.handleInitConversation)
				r.Post("/conversations/passControl", s.handlePassControl)
				r.Post("/messages", s.handleSendMessage)
			})
		})
	})

	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleMethodNotAllowed)
	return r
}

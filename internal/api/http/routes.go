package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up job routes, health check, and Prometheus metrics endpoint.
func NewRouter(service JobServiceI, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	jobHandler := NewJobHandler(service, logger)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", jobHandler.SubmitJob)
		r.Get("/", jobHandler.ListJobs)
		r.Get("/{jobID}", jobHandler.GetJob)
		r.Delete("/{jobID}", jobHandler.CancelJob)
	})

	r.Get("/health", jobHandler.Healthcheck)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

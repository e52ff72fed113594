// Package app wires configuration, adapters and services into runnable
// server and worker processes.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/univac-1/risk-analyzer/internal/adapter/httpserver"
	"github.com/univac-1/risk-analyzer/internal/adapter/observability"
	"github.com/univac-1/risk-analyzer/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces.
// Empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// Streaming routes (SSE, video) stay outside the timeout handler, which
// buffers responses.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/openapi.yaml", srv.OpenAPIServe())

	r.Route("/api/v1", func(api chi.Router) {
		// Mutating routes: rate limited, bounded by the write timeout.
		api.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Use(httpserver.TimeoutMiddleware(cfg.HTTPWriteTimeout))
			wr.Post("/videos", srv.UploadHandler())
			wr.Put("/jobs/{id}/edit-session", srv.EditSessionPutHandler())
			wr.Post("/jobs/{id}/export", srv.ExportRequestHandler())
		})

		// Read-only JSON routes.
		api.Group(func(ro chi.Router) {
			ro.Use(httpserver.TimeoutMiddleware(30 * time.Second))
			ro.Get("/jobs", srv.ListJobsHandler())
			ro.Get("/jobs/{id}", srv.GetJobHandler())
			ro.Get("/jobs/{id}/progress", srv.ProgressHandler())
			ro.Get("/jobs/{id}/results", srv.ResultsHandler())
			ro.Get("/jobs/{id}/video-url", srv.VideoURLHandler())
			ro.Get("/jobs/{id}/edit-session", srv.EditSessionGetHandler())
			ro.Get("/jobs/{id}/export/status", srv.ExportStatusHandler())
			ro.Get("/jobs/{id}/export/download", srv.ExportDownloadHandler())
		})

		// Streaming routes.
		api.Get("/jobs/{id}/events", srv.EventsHandler())
		api.Get("/jobs/{id}/video", srv.VideoStreamHandler())
	})

	return httpserver.SecurityHeaders(r)
}

// Package server assembles the HTTP handler tree.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rpattn/bulkingest/internal/auth"
	"github.com/rpattn/bulkingest/internal/export"
	"github.com/rpattn/bulkingest/internal/ingestion"
	"github.com/rpattn/bulkingest/internal/middleware"
	"github.com/rpattn/bulkingest/internal/ratelimit"
)

const (
	RouteHealth  = "Health"
	RouteMetrics = "Metrics"

	// Prefix is where the bulk-upload endpoints are mounted.
	Prefix = "/bulk-upload"
)

// Deps are the collaborators the handler tree is built from.
type Deps struct {
	Ingestion *ingestion.Service
	Export    *export.Service
	Limiter   *ratelimit.Limiter
	KeyFn     middleware.KeyFunc

	APIKey       string
	APIKeyHeader string
	CORSOrigins  []string

	// Ping reports store health on /health; nil means always healthy.
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

// NewHandler returns the service's root handler. Requests pass through CORS,
// access logging, the rate limiter and the API key guard, in that order.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", health(d.Ping)).Methods(http.MethodGet).Name(RouteHealth)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name(RouteMetrics)

	// the export route is registered first so it is not taken for a record id
	if d.Export != nil {
		export.NewHTTPHandler(d.Export, d.Logger).Register(router, Prefix)
	}
	ingestion.NewHTTPHandler(d.Ingestion, d.Logger).Register(router, Prefix)

	// the guard reads the matched route name, so it stays on the router
	public := append([]string{RouteHealth, RouteMetrics}, ingestion.PublicRoutes...)
	router.Use(auth.NewAPIKeyGuard(d.APIKey, d.APIKeyHeader, public...).Middleware)

	// the limiter wraps the router so unmatched paths and methods are counted too
	var handler http.Handler = router
	if d.Limiter != nil {
		handler = middleware.RateLimit(middleware.RateLimitOptions{
			Limiter: d.Limiter,
			KeyFn:   d.KeyFn,
			Logger:  d.Logger,
		})(handler)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders: []string{
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "Content-Disposition",
		},
	})

	return corsHandler.Handler(middleware.Logging(d.Logger)(handler))
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	}
}

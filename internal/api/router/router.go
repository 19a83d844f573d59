package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/prescription-ai-platform/internal/chat"
	httpmiddleware "github.com/wolfman30/prescription-ai-platform/internal/http/middleware"
	"github.com/wolfman30/prescription-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *chat.Handler
	MetricsHandler     http.Handler
	HTTPMetrics        *metrics.HTTPMetrics
	RateLimiter        *httpmiddleware.RateLimiter
	HealthChecks       map[string]HealthCheck
	CORSAllowedOrigins []string
	JWTSecret          string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.HTTPMetrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.ChatHandler != nil {
		r.Group(func(api chi.Router) {
			api.Use(httpmiddleware.UserIdentity(cfg.JWTSecret))
			if cfg.RateLimiter != nil {
				api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			cfg.ChatHandler.Routes(api)
		})
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		resp := map[string]any{"status": "ok"}
		deps := map[string]string{}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				deps[name] = "unavailable"
				status = http.StatusServiceUnavailable
				resp["status"] = "degraded"
				continue
			}
			deps[name] = "ok"
		}
		if len(deps) > 0 {
			resp["dependencies"] = deps
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

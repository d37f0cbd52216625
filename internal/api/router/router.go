package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/smart-care-platform/internal/appointments"
	"github.com/wolfman30/smart-care-platform/internal/audit"
	httpmiddleware "github.com/wolfman30/smart-care-platform/internal/http/middleware"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Appointments       *appointments.Handler
	Activity           *audit.Handler
	MetricsHandler     http.Handler
	AuthSecret         string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// HealthChecks are probed by /health. A failing check turns the response into a 503.
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated API. Without a secret nothing under /api is mounted.
	if cfg.AuthSecret != "" {
		r.Route("/api", func(api chi.Router) {
			api.Use(httpmiddleware.UserJWT(cfg.AuthSecret))
			if cfg.RateLimitRPS > 0 {
				api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
			}
			if cfg.Appointments != nil {
				// Compression would break the websocket hijack, so only plain routes get it.
				api.Group(func(r chi.Router) {
					r.Use(skipUpgrades(middleware.Compress(5)))
					cfg.Appointments.Routes(r)
				})
			}
			if cfg.Activity != nil {
				api.Route("/admin", func(admin chi.Router) {
					admin.Use(httpmiddleware.RequireRole(httpmiddleware.RoleAdmin))
					admin.Get("/activity", cfg.Activity.ListActivity)
				})
			}
		})
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		response := map[string]any{"status": "ok"}
		if len(checks) > 0 {
			results := make(map[string]string, len(checks))
			for name, check := range checks {
				if err := check(ctx); err != nil {
					results[name] = err.Error()
					status = http.StatusServiceUnavailable
					response["status"] = "degraded"
					continue
				}
				results[name] = "ok"
			}
			response["checks"] = results
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// skipUpgrades applies mw to every request except websocket upgrades.
func skipUpgrades(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

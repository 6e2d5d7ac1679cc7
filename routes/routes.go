package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/maturity-gateway/app"
	"github.com/upb/maturity-gateway/internal/auth"
	"github.com/upb/maturity-gateway/middleware"
)

// requestTimeout bounds a whole request. A full pipeline run chains six
// stage calls, so it is well above the per-stage timeout.
const requestTimeout = 15 * time.Minute

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.CorrelationHeader},
		ExposedHeaders:   []string{"X-Request-ID", middleware.CorrelationHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	access := newGuard(deps.AuthMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(access.authenticate)

		r.With(access.require(auth.PermissionListTools)).
			Get("/tools", deps.ToolHandler.HandleListTools)

		r.Route("/redact", func(r chi.Router) {
			r.Use(access.require(auth.PermissionRedact))
			r.Post("/", deps.RedactionHandler.HandleRedact)
			r.Get("/patterns", deps.RedactionHandler.HandleListPatterns)
		})

		r.With(access.require(auth.PermissionRunPipeline)).
			Post("/projects/{projectID}/analyze", deps.PipelineHandler.HandleAnalyze)

		r.Route("/engagements/{engagementID}", func(r chi.Router) {
			r.With(access.require(auth.PermissionInvokeTools)).
				Post("/tools/{tool}", deps.ToolHandler.HandleInvokeTool)
			r.With(access.require(auth.PermissionReadReports)).
				Get("/reports/{projectID}", deps.PipelineHandler.HandleGetReport)
			r.With(access.require(auth.PermissionReadAudit)).
				Get("/audit", deps.AuditHandler.HandleListEngagementAudit)
		})

		r.With(access.require(auth.PermissionReadAudit)).
			Get("/audit/{correlationID}", deps.AuditHandler.HandleGetCorrelationAudit)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// guard applies bearer auth and permission checks, or nothing when auth is
// disabled.
type guard struct {
	auth *middleware.AuthMiddleware
}

func newGuard(m *middleware.AuthMiddleware) guard {
	return guard{auth: m}
}

func (g guard) authenticate(next http.Handler) http.Handler {
	if g.auth == nil {
		return next
	}
	return g.auth.RequireAuth(next)
}

func (g guard) require(permission auth.Permission) func(http.Handler) http.Handler {
	if g.auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return g.auth.RequirePermission(permission)
}

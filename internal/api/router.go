package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/metrics"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Logger           *slog.Logger
	RateLimiter      RateLimiter
	MiddlewareConfig *MiddlewareConfig
	MetricsHandler   http.Handler
	Tracing          func(http.Handler) http.Handler
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Logger:           slog.Default(),
		RateLimiter:      NewInMemoryRateLimiter(100, time.Minute),
		MiddlewareConfig: DefaultMiddlewareConfig(),
		MetricsHandler:   metrics.Handler(),
	}
}

// Services holds the dependencies the HTTP handlers need.
type Services struct {
	Policies  PolicyStore
	Agents    AgentStore
	Events    EventStore
	Alerts    AlertStore
	Matcher   Matcher
	Bundles   BundleBuilder
	Processor *Processor

	MinAgentVersion string
	AgentMetrics    *metrics.AgentMetrics
	BundleMetrics   *metrics.BundleMetrics
}

// NewRouter creates a chi router with the full middleware stack and routes.
func NewRouter(config *RouterConfig, services *Services) chi.Router {
	if config == nil {
		config = DefaultRouterConfig()
	}
	if config.MiddlewareConfig == nil {
		config.MiddlewareConfig = DefaultMiddlewareConfig()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(AgentIDMiddleware)
	if config.Tracing != nil {
		r.Use(config.Tracing)
	}
	r.Use(RecoveryMiddleware(config.Logger))
	r.Use(LoggingMiddleware(config.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(ContentTypeMiddleware)
	r.Use(APIKeyMiddleware(config.MiddlewareConfig))
	if config.RateLimiter != nil {
		r.Use(RateLimitMiddleware(config.RateLimiter, config.MiddlewareConfig))
	}

	registerHealthRoutes(r)
	if config.MetricsHandler != nil {
		r.Handle("/metrics", config.MetricsHandler)
	}
	registerAgentRoutes(r, config, services)
	registerPolicyRoutes(r, config, services)
	registerEventRoutes(r, config, services)
	registerAlertRoutes(r, config, services)

	return r
}

// registerHealthRoutes registers health check endpoints.
func registerHealthRoutes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady)
	r.Get("/live", handleLive)
}

// handleHealth returns overall API health.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: "1.0.0",
	})
}

// handleReady returns readiness status.
func handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive returns liveness status.
func handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthResponse represents health check response.
type HealthResponse struct {
	Status     string                      `json:"status"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents individual component health.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// registerAgentRoutes registers agent lifecycle and sync endpoints.
func registerAgentRoutes(r chi.Router, config *RouterConfig, services *Services) {
	if services == nil || services.Agents == nil {
		return
	}
	handler := NewAgentHandler(services.Agents, services.Policies, services.Bundles, config.Logger).
		WithMinAgentVersion(services.MinAgentVersion).
		WithMetrics(services.AgentMetrics, services.BundleMetrics)
	r.Route("/api/v1/agents", func(r chi.Router) {
		r.Post("/", handler.Register)
		r.Get("/", handler.List)
		r.Get("/{id}", handler.Get)
		r.Delete("/{id}", handler.Unregister)
		r.Put("/{id}/heartbeat", handler.Heartbeat)
		r.Post("/{id}/policies/sync", handler.SyncPolicies)
	})
}

// registerPolicyRoutes registers policy CRUD endpoints.
func registerPolicyRoutes(r chi.Router, config *RouterConfig, services *Services) {
	if services == nil || services.Policies == nil {
		return
	}
	handler := NewPolicyHandler(services.Policies, services.Matcher, config.Logger)
	r.Route("/api/v1/policies", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Get("/", handler.List)
		r.Get("/{id}", handler.Get)
		r.Put("/{id}", handler.Update)
		r.Delete("/{id}", handler.Delete)
	})
}

// registerEventRoutes registers event intake and query endpoints.
func registerEventRoutes(r chi.Router, config *RouterConfig, services *Services) {
	if services == nil || services.Events == nil || services.Processor == nil {
		return
	}
	handler := NewEventHandler(services.Processor, services.Events, config.Logger)
	r.Route("/api/v1/events", func(r chi.Router) {
		r.Post("/", handler.Ingest)
		r.Get("/", handler.List)
		r.Get("/{id}", handler.Get)
	})
}

// registerAlertRoutes registers alert endpoints.
func registerAlertRoutes(r chi.Router, config *RouterConfig, services *Services) {
	if services == nil || services.Alerts == nil {
		return
	}
	handler := NewAlertHandler(services.Alerts, config.Logger)
	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Get("/", handler.List)
		r.Get("/{id}", handler.Get)
		r.Put("/{id}/status", handler.UpdateStatus)
	})
}

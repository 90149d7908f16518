// Package api exposes the Settlr gateway over HTTP: subscription actions,
// merchant and plan management, webhook configuration and the cron-driven
// renewal sweep.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/settlr/settlr/internal/billing/application/commands"
	"github.com/settlr/settlr/internal/billing/application/queries"
	"github.com/settlr/settlr/internal/billing/application/services"
	merchantapp "github.com/settlr/settlr/internal/merchants/application"
	"github.com/settlr/settlr/internal/webhooks/domain/delivery"
	"github.com/settlr/settlr/pkg/observability"
)

// Dependencies collects the application services the server fronts.
type Dependencies struct {
	Subscribe     *commands.SubscribeHandler
	Lifecycle     *commands.LifecycleHandler
	ChargeNow     *commands.ChargeNowHandler
	Plans         *commands.PlanHandler
	Subscriptions *queries.SubscriptionQueries
	PlanQueries   *queries.PlanQueries
	Merchants     *merchantapp.Service
	Deliveries    delivery.Repository
	Sweeper       *services.Sweeper
	Metrics       *observability.PrometheusMetrics
	Health        *observability.HealthRegistry
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr string

	// JWTSecret signs dashboard session tokens. Empty disables JWT auth,
	// leaving API keys as the only credential.
	JWTSecret string

	// CronSecret guards the renewal sweep endpoint. AllowInsecureCron skips
	// the check entirely; development only.
	CronSecret        string
	AllowInsecureCron bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the gateway HTTP server.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger

	auth          *authenticator
	subscriptions *SubscriptionHandler
	merchants     *MerchantHandler
	metrics       *observability.PrometheusMetrics
	health        *observability.HealthRegistry
}

// NewServer creates the gateway API server.
func NewServer(cfg ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	auth := &authenticator{
		merchants:         deps.Merchants,
		jwtSecret:         cfg.JWTSecret,
		cronSecret:        cfg.CronSecret,
		allowInsecureCron: cfg.AllowInsecureCron,
		logger:            logger,
	}

	s := &Server{
		mux:           http.NewServeMux(),
		logger:        logger,
		auth:          auth,
		subscriptions: NewSubscriptionHandler(deps, logger),
		merchants:     NewMerchantHandler(deps, logger),
		metrics:       deps.Metrics,
		health:        deps.Health,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      requestContext(s.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Subscription actions are customer-facing; merchant credentials are
	// optional and only tighten ownership checks.
	s.mux.HandleFunc("POST /api/v1/subscriptions", s.auth.optional(s.subscriptions.Dispatch))
	s.mux.HandleFunc("GET /api/v1/subscriptions", s.subscriptions.List)
	s.mux.HandleFunc("GET /api/v1/subscriptions/{subscriptionID}", s.subscriptions.Get)
	s.mux.HandleFunc("GET /api/v1/subscriptions/cron/renew", s.auth.cron(s.subscriptions.CronRenew))

	s.mux.HandleFunc("POST /api/v1/merchants", s.merchants.Register)
	s.mux.HandleFunc("GET /api/v1/merchants/me", s.auth.require(s.merchants.Me))
	s.mux.HandleFunc("GET /api/v1/merchants/me/webhook", s.auth.require(s.merchants.GetWebhook))
	s.mux.HandleFunc("PUT /api/v1/merchants/me/webhook", s.auth.require(s.merchants.ConfigureWebhook))

	s.mux.HandleFunc("GET /api/v1/plans", s.auth.require(s.merchants.ListPlans))
	s.mux.HandleFunc("POST /api/v1/plans", s.auth.require(s.merchants.CreatePlan))
	s.mux.HandleFunc("PATCH /api/v1/plans/{planID}", s.auth.require(s.merchants.UpdatePlan))

	s.mux.HandleFunc("GET /api/v1/webhooks/deliveries", s.auth.require(s.merchants.ListDeliveries))
}

// handleHealth runs all registered health checks. Only a hard failure such
// as the database being down turns the response into a 503; a degraded
// dependency still serves traffic.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	overall := s.health.GetOverallHealth(r.Context())
	status := http.StatusOK
	if overall.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, overall)
}

// requestContext stamps every request with a fresh request ID and a
// correlation ID, inherited from the X-Correlation-ID header when the caller
// sends one. The logger picks both up from the context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get("X-Correlation-ID"))
		w.Header().Set("X-Request-ID", observability.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler returns the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return requestContext(s.mux)
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting gateway API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

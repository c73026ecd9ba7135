package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/content"
	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/middleware"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/payments"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
)

// HealthChecker reports backend health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services are the domain services the handlers call
type Services struct {
	Institutes  *institutes.Service
	Permissions *permissions.Service
	Licensing   *licensing.Service
	Quota       *quota.Tracker
	Content     *content.Service
	Payments    *payments.Processor
	Directory   auth.Directory
	Health      HealthChecker
}

// ServerConfig holds HTTP-level settings
type ServerConfig struct {
	AllowedOrigins []string
	// MaxBodyBytes bounds JSON request bodies
	MaxBodyBytes int64
	// MaxUploadBytes bounds multipart material uploads
	MaxUploadBytes int64
	PaymentLimiter middleware.Limiter
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	Registry       *prometheus.Registry
}

// Server is the lectern HTTP API
type Server struct {
	router   *mux.Router
	services Services
	config   ServerConfig
	logger   *observability.Logger
}

// NewServer creates a new API server
func NewServer(services Services, config ServerConfig) *Server {
	if config.Logger == nil {
		config.Logger = observability.NewNopLogger()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 100 << 20
	}
	if config.PaymentLimiter == nil {
		config.PaymentLimiter = middleware.NewRateLimiter(middleware.PaymentRateLimitConfig())
	}

	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   config.Logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.RequestMiddleware(s.logger))
	if s.config.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.config.Metrics))
	}
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(httputil.CORSMiddleware(s.config.AllowedOrigins))
	}

	s.router.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	if s.config.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.config.Registry)).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// gateway-facing, signature authenticated
	pay := v1.PathPrefix("/payments").Subrouter()
	pay.Use(middleware.NewRateLimitMiddleware(s.config.PaymentLimiter, "payments", s.logger).Handler)
	pay.Use(httputil.MaxBytesMiddleware(s.config.MaxBodyBytes))
	NewPaymentHandlers(s.services.Payments).RegisterRoutes(pay)

	authed := v1.NewRoute().Subrouter()
	authed.Use(middleware.NewAuthMiddleware(s.services.Directory, false).Handler)

	authz := s.services.Permissions.Authorizer()
	NewInstituteHandlers(s.services.Institutes, s.services.Quota, s.services.Licensing, authz).RegisterRoutes(authed)
	NewMemberHandlers(s.services.Permissions, s.services.Institutes).RegisterRoutes(authed)
	NewMaterialHandlers(s.services.Content, s.config.MaxUploadBytes).RegisterRoutes(authed)

	// order creation shares the payment rate limit
	NewLicenseHandlers(s.services.Licensing, middleware.NewRateLimitMiddleware(
		s.config.PaymentLimiter, "orders", s.logger)).RegisterRoutes(authed)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the traced root handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "lectern")
}

// NewHTTPServer wraps the API in an http.Server with the given timeouts
func (s *Server) NewHTTPServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.services.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.services.Health.HealthCheck(ctx); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("health check failed")
			httputil.WriteServiceUnavailable(w, "unhealthy")
			return
		}
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// principalID returns the authenticated caller's id, writing 401 when absent
func principalID(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := middleware.GetPrincipal(r)
	if p == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	return p.ID, true
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	OrderTransitionsTotal *prometheus.CounterVec
	ReconcileDuration     *prometheus.HistogramVec

	// Payment metrics
	PaymentCallbacksTotal *prometheus.CounterVec

	// Quota metrics
	QuotaRejectionsTotal *prometheus.CounterVec
	StoredBytesTotal     *prometheus.CounterVec

	// Permission metrics
	AuthorizationDecisionsTotal *prometheus.CounterVec
	InvitationsTotal            *prometheus.CounterVec
	PermissionCacheHitsTotal    prometheus.Counter
	PermissionCacheMissesTotal  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OrderTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_license_order_transitions_total",
				Help: "License order state transitions",
			},
			[]string{"product", "transition"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_reconcile_duration_seconds",
				Help:    "Duration of order reconcile passes",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"trigger"},
		),
		PaymentCallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_payment_callbacks_total",
				Help: "Payment gateway callbacks by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		QuotaRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_quota_rejections_total",
				Help: "Writes rejected because a quota was exceeded",
			},
			[]string{"resource"},
		),
		StoredBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_stored_bytes_total",
				Help: "Bytes accepted into or released from the blob store",
			},
			[]string{"direction"},
		),
		AuthorizationDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_authorization_decisions_total",
				Help: "Permission lattice decisions",
			},
			[]string{"action", "scope", "allowed"},
		),
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_invitations_total",
				Help: "Role invitations by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		PermissionCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lectern_permission_cache_hits_total",
				Help: "Institute permission cache hits",
			},
		),
		PermissionCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lectern_permission_cache_misses_total",
				Help: "Institute permission cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrderTransitionsTotal,
		m.ReconcileDuration,
		m.PaymentCallbacksTotal,
		m.QuotaRejectionsTotal,
		m.StoredBytesTotal,
		m.AuthorizationDecisionsTotal,
		m.InvitationsTotal,
		m.PermissionCacheHitsTotal,
		m.PermissionCacheMissesTotal,
	)

	return m
}

// RecordOrderTransition counts an order state transition
func (m *Metrics) RecordOrderTransition(product, transition string) {
	if m == nil {
		return
	}
	m.OrderTransitionsTotal.WithLabelValues(product, transition).Inc()
}

// ObserveReconcile records how long a reconcile pass took
func (m *Metrics) ObserveReconcile(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// RecordPaymentCallback counts a processed gateway callback
func (m *Metrics) RecordPaymentCallback(source, outcome string) {
	if m == nil {
		return
	}
	m.PaymentCallbacksTotal.WithLabelValues(source, outcome).Inc()
}

// RecordQuotaRejection counts a write rejected by a quota
func (m *Metrics) RecordQuotaRejection(resource string) {
	if m == nil {
		return
	}
	m.QuotaRejectionsTotal.WithLabelValues(resource).Inc()
}

// RecordStoredBytes counts bytes stored (positive) or released (negative)
func (m *Metrics) RecordStoredBytes(delta int64) {
	if m == nil || delta == 0 {
		return
	}
	if delta > 0 {
		m.StoredBytesTotal.WithLabelValues("in").Add(float64(delta))
		return
	}
	m.StoredBytesTotal.WithLabelValues("out").Add(float64(-delta))
}

// RecordAuthorization counts an authorization decision
func (m *Metrics) RecordAuthorization(action, scope string, allowed bool) {
	if m == nil {
		return
	}
	m.AuthorizationDecisionsTotal.WithLabelValues(action, scope, strconv.FormatBool(allowed)).Inc()
}

// RecordInvitation counts an invitation attempt
func (m *Metrics) RecordInvitation(role, outcome string) {
	if m == nil {
		return
	}
	m.InvitationsTotal.WithLabelValues(role, outcome).Inc()
}

// RecordPermissionCache counts a permission cache lookup
func (m *Metrics) RecordPermissionCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.PermissionCacheHitsTotal.Inc()
		return
	}
	m.PermissionCacheMissesTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux route template so metric cardinality stays bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			if metrics == nil {
				return
			}
			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

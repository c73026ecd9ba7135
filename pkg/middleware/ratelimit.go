package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// PaymentRateLimitConfig bounds order creation and payment notifications
func PaymentRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
	}
}

// Limiter counts requests per key in fixed windows
type Limiter interface {
	// Allow records one request and reports whether it fits the window,
	// along with how many requests remain in it.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	Config() *RateLimitConfig
}

// RateLimiter is an in-process fixed-window Limiter for single-node deployments
type RateLimiter struct {
	config  *RateLimitConfig
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = PaymentRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.config.WindowDuration)}
		rl.windows[key] = w
	}
	w.count++
	return w.count <= rl.config.RequestsPerWindow, remaining(rl.config, w.count), nil
}

// Cleanup removes expired windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func remaining(config *RateLimitConfig, count int) int {
	if r := config.RequestsPerWindow - count; r > 0 {
		return r
	}
	return 0
}

// RateLimitMiddleware limits requests per principal, or per client IP for
// unauthenticated callers such as gateway webhooks
type RateLimitMiddleware struct {
	limiter  Limiter
	prefix   string
	failOpen bool
	logger   *observability.Logger
}

// NewRateLimitMiddleware creates a rate limit middleware. Limiter errors let
// the request through.
func NewRateLimitMiddleware(limiter Limiter, prefix string, logger *observability.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RateLimitMiddleware{limiter: limiter, prefix: prefix, failOpen: true, logger: logger}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.prefix + ":ip:" + getClientIP(r)
		if p := GetPrincipal(r); p != nil {
			key = m.prefix + ":principal:" + p.ID
		}

		config := m.limiter.Config()
		allowed, left, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", left))
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", config.WindowDuration.Seconds()))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	// first hop of X-Forwarded-For when behind a proxy
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

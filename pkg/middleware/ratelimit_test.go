package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lectern/pkg/auth"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	rl.now = func() time.Time { return now }

	allowed, left, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, left)

	allowed, _, _ = rl.Allow(ctx, "k")
	assert.True(t, allowed)
	allowed, left, _ = rl.Allow(ctx, "k")
	assert.False(t, allowed)
	assert.Equal(t, 0, left)

	// other keys are independent
	allowed, _, _ = rl.Allow(ctx, "other")
	assert.True(t, allowed)

	now = now.Add(time.Minute)
	allowed, _, _ = rl.Allow(ctx, "k")
	assert.True(t, allowed)

	now = now.Add(2 * time.Minute)
	rl.Cleanup()
	assert.Empty(t, rl.windows)
}

func setupRedisLimiter(t *testing.T, limit int) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: limit, WindowDuration: time.Minute}, ""), mr
}

func TestDistributedRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl, mr := setupRedisLimiter(t, 2)

	remainingBefore, err := rl.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, remainingBefore)

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, left, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, left)

	ttl, err := rl.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute)
	allowed, _, err = rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, rl.Reset(ctx, "k"))
	assert.False(t, mr.Exists("lectern:ratelimit:k"))
}

func TestDistributedRateLimiter_WindowNotExtended(t *testing.T) {
	ctx := context.Background()
	rl, mr := setupRedisLimiter(t, 10)

	_, _, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(30 * time.Second)
	_, _, err = rl.Allow(ctx, "k")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, mr.TTL("lectern:ratelimit:k"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	return false, 0, errors.New("redis down")
}

func (failingLimiter) Config() *RateLimitConfig { return PaymentRateLimitConfig() }

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("limits per principal", func(t *testing.T) {
		rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
		h := NewRateLimitMiddleware(rl, "payments", nil).Handler(ok)

		send := func(id string) *httptest.ResponseRecorder {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{ID: id}))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			return w
		}

		assert.Equal(t, http.StatusOK, send("a").Code)
		w := send("a")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
		assert.Equal(t, http.StatusOK, send("b").Code)
	})

	t.Run("limits anonymous callers by ip", func(t *testing.T) {
		rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
		h := NewRateLimitMiddleware(rl, "payments", nil).Handler(ok)

		send := func(forwarded string) int {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set("X-Forwarded-For", forwarded)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			return w.Code
		}
		assert.Equal(t, http.StatusOK, send("10.0.0.1, 172.16.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))
		assert.Equal(t, http.StatusOK, send("10.0.0.2"))
	})

	t.Run("fails open", func(t *testing.T) {
		h := NewRateLimitMiddleware(failingLimiter{}, "payments", nil).Handler(ok)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", getClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", getClientIP(r))
}

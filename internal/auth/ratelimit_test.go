package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-finder/internal/observability"
)

func TestMemoryRateLimiterWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "login:1.2.3.4", now)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "login:1.2.3.4", now.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 50*time.Second, retryAfter)

	allowed, _, err = limiter.Allow(ctx, "login:5.6.7.8", now)
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")

	allowed, _, err = limiter.Allow(ctx, "login:1.2.3.4", now.Add(time.Minute+time.Second))
	require.NoError(t, err)
	assert.True(t, allowed)
}

type stubLimiter struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	keys       []string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.retryAfter, l.err
}

func TestRateLimitMiddlewareRejects(t *testing.T) {
	limiter := &stubLimiter{allowed: false, retryAfter: 30 * time.Second}
	var logs bytes.Buffer
	handler := RateLimitMiddleware(limiter, "login", observability.NewLoggerTo(&logs), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"login:9.9.9.9"}, limiter.keys)
	assert.Contains(t, logs.String(), "rate_limited")
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	called := false
	handler := RateLimitMiddleware(limiter, "login", observability.NewLoggerTo(&bytes.Buffer{}), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitMiddlewareRoundsRetryAfterUp(t *testing.T) {
	cases := map[time.Duration]string{
		1900 * time.Millisecond: "2",
		2 * time.Second:         "2",
		10 * time.Millisecond:   "1",
		0:                       "1",
	}

	for wait, want := range cases {
		limiter := &stubLimiter{allowed: false, retryAfter: wait}
		handler := RateLimitMiddleware(limiter, "login", observability.NewLoggerTo(&bytes.Buffer{}), http.NotFoundHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, want, rec.Header().Get("Retry-After"), wait.String())
	}
}

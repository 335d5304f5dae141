package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rpattn/bulkingest/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeyFunc(t *testing.T) {
	cases := []struct {
		name     string
		trustXFF bool
		xff      string
		remote   string
		want     string
	}{
		{"forwarded first entry", true, "203.0.113.7, 10.0.0.1", "10.0.0.1:5000", "203.0.113.7"},
		{"forwarded ignored", false, "203.0.113.7", "10.0.0.1:5000", "10.0.0.1"},
		{"blank forwarded entry", true, " , 10.0.0.2", "10.0.0.1:5000", "10.0.0.1"},
		{"remote without port", true, "", "10.0.0.3", "10.0.0.3"},
		{"ipv6 remote", true, "", "[::1]:8080", "::1"},
		{"nothing", true, "", "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, DefaultKeyFunc(tc.trustXFF)(r))
		})
	}
}

func newLimitedHandler(limit int, now time.Time) (http.Handler, *int) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	mw := RateLimit(RateLimitOptions{
		Limiter: ratelimit.New(ratelimit.NewMemoryStore(0), limit, time.Minute),
		KeyFn:   DefaultKeyFunc(true),
		Now:     func() time.Time { return now },
	})
	return mw(next), &calls
}

func TestRateLimitSetsHeadersOnEveryResponse(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	handler, calls := newLimitedHandler(2, now)
	reset := strconv.FormatInt(now.Add(time.Minute).UnixMilli(), 10)

	for i, wantRemaining := range []string{"1", "0"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, wantRemaining, rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, reset, rec.Header().Get("X-RateLimit-Reset"))
		assert.Empty(t, rec.Header().Get("Retry-After"))
	}
	assert.Equal(t, 2, *calls)
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	handler, calls := newLimitedHandler(1, now)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, first.Code)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, 1, *calls, "rejected request must not reach the handler")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(http.StatusTooManyRequests), body["statusCode"])
	assert.Equal(t, "Rate limit exceeded. Try again in 60 seconds.", body["message"])

	// another client is unaffected
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.Header.Set("X-Forwarded-For", "198.51.100.9")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type brokenStore struct{}

func (brokenStore) Hit(context.Context, string, time.Time, time.Duration) (ratelimit.Entry, error) {
	return ratelimit.Entry{}, errors.New("redis: connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	called := false
	mw := RateLimit(RateLimitOptions{Limiter: ratelimit.New(brokenStore{}, 1, time.Minute)})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestLoggingCapturesStatus(t *testing.T) {
	handler := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

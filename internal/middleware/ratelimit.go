package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/bulkingest/internal/metrics"
	"github.com/rpattn/bulkingest/internal/ratelimit"

	"golang.org/x/time/rate"
)

// KeyFunc derives the client identity a request is counted against.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc uses the first X-Forwarded-For entry when trustXFF is set,
// then the peer address, then "unknown".
func DefaultKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		remote := strings.TrimSpace(r.RemoteAddr)
		host, _, err := net.SplitHostPort(remote)
		if err == nil && host != "" {
			return host
		}
		if remote != "" {
			return remote
		}
		return "unknown"
	}
}

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	Limiter *ratelimit.Limiter
	KeyFn   KeyFunc
	Logger  *slog.Logger
	Now     func() time.Time
}

// RateLimit counts every request against its client key and answers 429
// once the key is over its limit. The X-RateLimit-* headers are set on every
// response. A failing store lets the request through.
func RateLimit(opts RateLimitOptions) func(http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(true)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With("component", "ratelimit")

	// at most one rejection log line per second, whatever the attack volume
	sampled := &rate.Sometimes{First: 1, Interval: time.Second}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			decision, err := opts.Limiter.Check(r.Context(), key, opts.Now())
			var exceeded *ratelimit.ExceededError
			switch {
			case err == nil:
				metrics.CounterRateLimit.WithLabelValues(metrics.RateLimitAllowed).Inc()
			case errors.As(err, &exceeded):
				metrics.CounterRateLimit.WithLabelValues(metrics.RateLimitRejected).Inc()
			default:
				metrics.CounterRateLimit.WithLabelValues(metrics.RateLimitError).Inc()
				logger.Error("rate limit check failed", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetTime.UnixMilli(), 10))

			if exceeded == nil {
				next.ServeHTTP(w, r)
				return
			}

			sampled.Do(func() {
				logger.Warn("rate limit exceeded", "key", key, "path", r.URL.Path, "retryAfter", exceeded.RetryAfterSeconds())
			})

			h.Set("Retry-After", strconv.Itoa(exceeded.RetryAfterSeconds()))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"statusCode": http.StatusTooManyRequests,
				"message":    exceeded.Error(),
				"error":      http.StatusText(http.StatusTooManyRequests),
			})
		})
	}
}

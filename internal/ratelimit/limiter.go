// Package ratelimit implements a per-client fixed-window request limiter.
//
// A key gets a window of length window starting at its first request. Every
// request increments the key's count; once the count passes max the key is
// rejected until the window ends, at which point the next request starts a
// fresh window with a count of one. Two full bursts can therefore land back
// to back across a window boundary.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Entry is the state of one key's current window.
type Entry struct {
	Count     int
	ResetTime time.Time
}

// Store holds window state per key.
//
// Hit atomically applies one request at now: a missing or expired entry is
// replaced by {1, now+window}, otherwise the count is incremented. It returns
// the entry after the update.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error)
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the retry delay up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return ceilSeconds(d.RetryAfter)
}

// ExceededError is returned by Check when the key is over its limit.
type ExceededError struct {
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	ResetTime  time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", ceilSeconds(e.RetryAfter))
}

// RetryAfterSeconds rounds the retry delay up to whole seconds.
func (e *ExceededError) RetryAfterSeconds() int {
	return ceilSeconds(e.RetryAfter)
}

// Limiter allows at most max requests per key per window.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
}

// New returns a limiter backed by store.
func New(store Store, max int, window time.Duration) *Limiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, max: max, window: window}
}

// Max is the number of requests allowed per window.
func (l *Limiter) Max() int { return l.max }

// Window is the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Check records one request for key at now. A rejected request returns the
// decision together with an *ExceededError.
func (l *Limiter) Check(ctx context.Context, key string, now time.Time) (Decision, error) {
	entry, err := l.store.Hit(ctx, key, now, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}

	decision := Decision{
		Allowed:   entry.Count <= l.max,
		Limit:     l.max,
		Remaining: max(l.max-entry.Count, 0),
		ResetTime: entry.ResetTime,
	}
	if decision.Allowed {
		return decision, nil
	}

	decision.RetryAfter = max(entry.ResetTime.Sub(now), 0)
	return decision, &ExceededError{
		RetryAfter: decision.RetryAfter,
		Limit:      decision.Limit,
		Remaining:  decision.Remaining,
		ResetTime:  decision.ResetTime,
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

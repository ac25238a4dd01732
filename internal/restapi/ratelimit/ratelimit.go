// Package ratelimit implements the fixed-window request counter each
// endpoint owns: a map from the numeric-IP bucket key to a
// (count, window_start) pair, reset whenever the window has elapsed, with
// explicit window-start bookkeeping rather than a reset-at time.
package ratelimit

import (
	"sync"
	"time"
)

// Limit configures a window: at most Max requests within WindowSecs.
type Limit struct {
	Max        int
	WindowSecs int
}

type bucket struct {
	count       int
	windowStart time.Time
}

// Limiter tracks per-peer counters for a single endpoint. The zero value is
// not usable; construct with New.
type Limiter struct {
	limit   Limit
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time // overridable for tests
}

// New creates a Limiter enforcing limit. A Limit with Max <= 0 never
// throttles (Allow always succeeds) so endpoints can opt out cheaply.
func New(limit Limit) *Limiter {
	return &Limiter{limit: limit, buckets: make(map[string]*bucket), now: time.Now}
}

// Allow increments the counter for numericIP and reports whether the
// request is within the endpoint's limit. The window resets to a fresh
// count of 1 once now - windowStart >= WindowSecs.
func (l *Limiter) Allow(numericIP string) bool {
	if l.limit.Max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[numericIP]
	if !ok || now.Sub(b.windowStart) >= time.Duration(l.limit.WindowSecs)*time.Second {
		l.buckets[numericIP] = &bucket{count: 1, windowStart: now}
		return true
	}

	b.count++
	return b.count <= l.limit.Max
}

// Reset clears all tracked buckets. Intended for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

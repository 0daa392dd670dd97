// Package ratelimit gates requests per session with a sliding window of
// request timestamps. Single-process, in-memory, best-effort: there is
// no distributed coordination.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so window expiry can be tested without
// sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Default limiter settings for programmatic use. The HTTP endpoint
// overrides the limit to 15 in practice.
const (
	DefaultLimit  = 10
	DefaultWindow = 60 * time.Second
)

// Limiter is a per-key sliding-window admission limiter.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	clock    Clock
	requests map[string][]time.Time
}

// New creates a limiter with the default settings.
func New() *Limiter {
	return NewWithConfig(DefaultLimit, DefaultWindow, nil)
}

// NewWithConfig creates a limiter with explicit settings. A nil clock
// uses the wall clock.
func NewWithConfig(limit int, window time.Duration, clock Clock) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Limiter{
		limit:    limit,
		window:   window,
		clock:    clock,
		requests: make(map[string][]time.Time),
	}
}

// Allow prunes timestamps older than the trailing window for key, then
// either records now and admits the request, or rejects it without
// recording.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.requests[key][:0]
	for _, t := range l.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.requests[key] = kept
		return false
	}
	l.requests[key] = append(kept, now)
	return true
}

// Len reports how many keys currently hold a window. Used by the session
// sweeper to bound memory alongside conversation eviction.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Forget drops the window for a key. Called when a session is evicted.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, key)
}

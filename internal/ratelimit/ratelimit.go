// Package ratelimit provides a per-key fixed-window rate limiter used
// to bound how often a single connection may mutate the volume.
package ratelimit

import (
	"sync"
	"time"
)

const cleanupInterval = 5 * time.Minute

type entry struct {
	windowStart time.Time
	count       int
}

// Limiter allows up to limit calls per key per window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*entry

	nextCleanup time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Limiter allowing limit calls per window for each key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow reports whether a call for key fits within its current window,
// and records it if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextCleanup) {
		l.cleanup(now)
		l.nextCleanup = now.Add(cleanupInterval)
	}

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= l.window {
		l.entries[key] = &entry{windowStart: now, count: 1}
		return true
	}

	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

// Forget drops all state for key. Called when a connection goes away.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *Limiter) cleanup(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.windowStart) >= l.window {
			delete(l.entries, key)
		}
	}
}

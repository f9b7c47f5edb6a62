// Package ratelimit implements an in-process per-tenant sliding window.
// State is process-local: in a multi-replica deployment each replica
// enforces its own window.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Limiter tracks request timestamps per key over a sliding window.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex // guards buckets map only
	buckets map[string]*bucket

	now func() time.Time
}

// New creates a limiter allowing limit requests per window for each key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// limit. Denied requests are not recorded, so a saturated tenant does not
// push its own window forward by retrying.
func (l *Limiter) Allow(key string) bool {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Drop expired stamps from the front; the slice is append-ordered.
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}

	if len(b.stamps) >= l.limit {
		return false
	}

	b.stamps = append(b.stamps, now)
	return true
}

// Remaining reports how many requests key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	active := 0
	for _, ts := range b.stamps {
		if ts.After(cutoff) {
			active++
		}
	}

	if active >= l.limit {
		return 0
	}
	return l.limit - active
}

// EvictInactive removes buckets whose newest stamp is older than idle.
// Called periodically so one-off tenants do not accumulate forever.
func (l *Limiter) EvictInactive(idle time.Duration) int {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		stale := len(b.stamps) == 0 || b.stamps[len(b.stamps)-1].Before(cutoff)
		b.mu.Unlock()

		if stale {
			delete(l.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}

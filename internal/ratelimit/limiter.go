// Package ratelimit counts events per key in fixed windows. The API uses
// it to throttle clients that keep presenting a wrong key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"grimm.is/aclsync/internal/clock"
)

// Limiter allows limit events per key in each window.
type Limiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket is one key's current window.
type bucket struct {
	used  int
	start time.Time
}

// NewLimiter creates a limiter allowing limit events per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		clock:   clock.Real{},
		buckets: make(map[string]*bucket),
	}
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(c clock.Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = c
}

// current returns key's bucket, starting a fresh window when the old one
// has run out. Callers hold l.mu.
func (l *Limiter) current(key string) *bucket {
	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		b = &bucket{start: now}
		l.buckets[key] = b
	}
	return b
}

// Allow records one event for key and reports whether it was within
// the limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.current(key)
	if b.used >= l.limit {
		return false
	}
	b.used++
	return true
}

// Exhausted reports whether key has used up its window, without
// recording an event.
func (l *Limiter) Exhausted(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || l.clock.Since(b.start) >= l.window {
		return false
	}
	return b.used >= l.limit
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired drops every key whose window has ended.
func (l *Limiter) CleanupExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if l.clock.Since(b.start) >= l.window {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartCleanup runs CleanupExpired every interval until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	l.mu.Lock()
	ticker := l.clock.NewTicker(interval)
	l.mu.Unlock()
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				l.CleanupExpired()
			}
		}
	}()
}

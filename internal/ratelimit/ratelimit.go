// Package ratelimit bounds outbound request rates per data source using a
// sliding window over recorded request timestamps. Every extractor shares
// one Limiter per source so concurrent pulls cannot cross-contaminate
// another source's quota.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter enforces at most MaxRequests per rolling Window. Acquire never
// fails on its own; it blocks until a slot frees or the context ends.
type Limiter struct {
	mu          sync.Mutex
	source      string
	maxRequests int
	window      time.Duration
	requests    []time.Time

	now    func() time.Time
	logger *slog.Logger
}

// New creates a limiter for one source. maxRequests below 1 is treated
// as 1 so a misconfigured source still makes progress.
func New(source string, maxRequests int, window time.Duration) *Limiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		source:      source,
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// Acquire blocks until a request slot is available. It returns early only
// when ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait := l.tryReserve()
		if wait <= 0 {
			return nil
		}

		l.logger.Debug("rate limit reached, waiting",
			slog.String("source", l.source),
			slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryReserve prunes expired timestamps and returns 0 when a slot is free,
// otherwise the wait until the oldest recorded request leaves the window.
func (l *Limiter) tryReserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.requests) < l.maxRequests {
		return 0
	}
	return l.requests[0].Add(l.window).Sub(now)
}

// RecordRequest consumes a slot. Call it immediately after the actual
// API call so the window reflects real traffic.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, l.now())
}

// Pending returns the number of requests currently inside the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.requests)
}

// Reset clears the window, releasing all slots.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = nil
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.requests) && !l.requests[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.requests = append(l.requests[:0], l.requests[idx:]...)
	}
}

// Registry hands out one shared limiter per source name.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// For returns the limiter registered for source, creating it with the
// given quota on first use. Later calls ignore the quota arguments so
// all extractors for a source share identical bookkeeping.
func (r *Registry) For(source string, maxRequests int, window time.Duration) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[source]; ok {
		return l
	}
	l := New(source, maxRequests, window)
	r.limiters[source] = l
	return l
}

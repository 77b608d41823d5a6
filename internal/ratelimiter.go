package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by client address.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limit hits per key within window. A limit <= 0
// disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	recent := r.hits[key][:0]
	for _, ts := range r.hits[key] {
		if ts.After(windowStart) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= r.limit {
		r.hits[key] = recent
		return false
	}
	r.hits[key] = append(recent, now)
	r.prune(windowStart)
	return true
}

// prune forgets keys with no hits inside the window so one-off guests do not
// accumulate.
func (r *RateLimiter) prune(windowStart time.Time) {
	for key, hits := range r.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(windowStart) {
			delete(r.hits, key)
		}
	}
}

// Copyright 2024-2026 Aiku AI

package listener

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter per hook path. A limit of zero or
// less allows everything.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*windowBucket
	now     func() time.Time
}

type windowBucket struct {
	count   int
	resetAt time.Time
}

// pruneThreshold is the bucket count above which expired buckets are dropped.
const pruneThreshold = 1024

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &rateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*windowBucket),
		now:     time.Now,
	}
}

// Allow counts one call for key and reports whether it is within the limit.
func (r *rateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok || now.After(b.resetAt) {
		if !ok && len(r.buckets) >= pruneThreshold {
			r.prune(now)
		}
		r.buckets[key] = &windowBucket{count: 1, resetAt: now.Add(r.window)}
		return true
	}
	if b.count >= r.limit {
		return false
	}
	b.count++
	return true
}

func (r *rateLimiter) prune(now time.Time) {
	for key, b := range r.buckets {
		if now.After(b.resetAt) {
			delete(r.buckets, key)
		}
	}
}

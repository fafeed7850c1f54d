// Package ratelimiter throttles repetitive diagnostics.
package ratelimiter

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket that also counts what it rejected, so a
// caller logging a throttled message can report how many were dropped since
// the previous one.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// New creates a RateLimiter allowing perSecond events with bursts of up to
// burst events. A zero rate disables limiting.
func New(perSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	if r.limiter.Allow() {
		return true
	}
	r.suppressed.Add(1)
	return false
}

// Sample is Allow that also returns, when allowed, the number of events
// rejected since the last allowed one.
func (r *RateLimiter) Sample() (allowed bool, suppressed uint64) {
	if !r.Allow() {
		return false, 0
	}
	return true, r.suppressed.Swap(0)
}

// Suppressed returns the number of rejected events not yet reported by
// Sample.
func (r *RateLimiter) Suppressed() uint64 {
	return r.suppressed.Load()
}

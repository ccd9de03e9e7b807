package security

import (
	"sync"
	"time"
)

// RateLimiter enforces a sliding-window request limit per user. A user may
// trigger at most maxRequests dispatches within any window of the configured
// duration; attempts over the limit are denied and do not consume quota.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	history     map[int64][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates a sliding-window rate limiter.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		history:     make(map[int64][]time.Time),
		now:         time.Now,
	}
}

// Allow reports whether the user may proceed, recording the attempt only
// when it is admitted. Expired entries are pruned before the decision so a
// burst followed by a quiet period fully restores the user's quota.
func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.history[userID][:0]
	for _, t := range r.history[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.maxRequests {
		r.history[userID] = recent
		return false
	}

	r.history[userID] = append(recent, now)
	return true
}

// Reset clears the recorded history for a user.
func (r *RateLimiter) Reset(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, userID)
}

package security

import (
	"testing"
	"time"
)

// newTestLimiter returns a limiter with a controllable clock.
func newTestLimiter(maxRequests int, window time.Duration) (*RateLimiter, *time.Time) {
	limiter := NewRateLimiter(maxRequests, window)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	return limiter, &current
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(5, 60*time.Second)

	for i := 0; i < 5; i++ {
		if !limiter.Allow(999) {
			t.Fatalf("Allow() = false on request %d, want true", i+1)
		}
	}
	if limiter.Allow(999) {
		t.Error("Allow() = true on request 6, want false")
	}
}

func TestRateLimiterDeniedAttemptsDoNotConsumeQuota(t *testing.T) {
	t.Parallel()

	limiter, clock := newTestLimiter(2, 60*time.Second)

	limiter.Allow(999)
	limiter.Allow(999)

	// Hammering while over the limit must not extend the penalty.
	for i := 0; i < 10; i++ {
		if limiter.Allow(999) {
			t.Fatal("Allow() = true while over the limit")
		}
	}

	*clock = clock.Add(61 * time.Second)
	if !limiter.Allow(999) {
		t.Error("Allow() = false after window elapsed, want true")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	limiter, clock := newTestLimiter(2, 60*time.Second)

	limiter.Allow(999)
	*clock = clock.Add(40 * time.Second)
	limiter.Allow(999)

	if limiter.Allow(999) {
		t.Error("Allow() = true at limit, want false")
	}

	// The first entry expires, the second is still inside the window.
	*clock = clock.Add(25 * time.Second)
	if !limiter.Allow(999) {
		t.Error("Allow() = false after first entry expired, want true")
	}
	if limiter.Allow(999) {
		t.Error("Allow() = true with two live entries, want false")
	}
}

func TestRateLimiterIsPerUser(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(1, 60*time.Second)

	if !limiter.Allow(1) {
		t.Fatal("Allow(1) = false, want true")
	}
	if !limiter.Allow(2) {
		t.Error("Allow(2) = false, want true; limits must be per user")
	}
	if limiter.Allow(1) {
		t.Error("Allow(1) = true over limit, want false")
	}
}

func TestRateLimiterReset(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(1, 60*time.Second)

	limiter.Allow(999)
	if limiter.Allow(999) {
		t.Fatal("Allow() = true over limit, want false")
	}

	limiter.Reset(999)
	if !limiter.Allow(999) {
		t.Error("Allow() = false after Reset, want true")
	}
}

package internal

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatal("expected first two hits to pass")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("expected third hit inside the window to be rejected")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("limits are per key")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("expected hit after the window to pass")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("guest") {
			t.Fatalf("hit %d rejected with limiting disabled", i)
		}
	}
	var nilLimiter *RateLimiter
	if !nilLimiter.Allow("guest") {
		t.Fatal("nil limiter must allow")
	}
}

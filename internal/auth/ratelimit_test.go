package auth

import (
	"testing"
	"time"
)

func newTestLimiter(clock *fakeClock) *RateLimiter {
	l := NewRateLimiter(5, 5*time.Minute)
	l.now = clock.Now
	return l
}

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	clock := &fakeClock{now: tokenEpoch}
	l := newTestLimiter(clock)

	for i := range 5 {
		if !l.Allow("ada@example.com") {
			t.Fatalf("attempt %d rejected", i+1)
		}
		clock.Advance(10 * time.Second)
	}
	if l.Allow("ada@example.com") {
		t.Error("sixth attempt allowed")
	}
	if !l.Allow("bob@example.com") {
		t.Error("other key limited")
	}

	// The first attempt was 50s ago; it leaves the window in 4m10s.
	if got := l.RemainingTime("ada@example.com"); got != 4*time.Minute+10*time.Second {
		t.Errorf("RemainingTime() = %v, want 4m10s", got)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := &fakeClock{now: tokenEpoch}
	l := newTestLimiter(clock)

	for range 5 {
		l.Allow("k")
	}
	clock.Advance(5*time.Minute + time.Second)

	if got := l.RemainingTime("k"); got != 0 {
		t.Errorf("RemainingTime() = %v after window", got)
	}
	if !l.Allow("k") {
		t.Error("attempt rejected after window passed")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	clock := &fakeClock{now: tokenEpoch}
	l := newTestLimiter(clock)

	for range 5 {
		l.Allow("k")
	}
	l.Reset("k")
	if !l.Allow("k") {
		t.Error("attempt rejected after Reset")
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	l := NewRateLimiter(0, 0)
	if l.max != DefaultMaxAttempts || l.window != DefaultLimitWindow {
		t.Errorf("defaults = %d/%v", l.max, l.window)
	}
}

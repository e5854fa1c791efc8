package auth

import (
	"sync"
	"time"
)

// Sign-in limiter defaults.
const (
	DefaultMaxAttempts = 5
	DefaultLimitWindow = 5 * time.Minute
)

// RateLimiter allows at most max attempts per key within a sliding window.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimiter creates a limiter. Non-positive arguments use the defaults.
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultLimitWindow
	}
	return &RateLimiter{
		max:      maxAttempts,
		window:   window,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
	}
}

// recent drops attempts older than the window. Caller holds mu.
func (l *RateLimiter) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	kept := l.attempts[key][:0]
	for _, at := range l.attempts[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(l.attempts, key)
		return nil
	}
	l.attempts[key] = kept
	return kept
}

// Allow records an attempt for key and reports whether it is permitted.
// Rejected attempts are not recorded.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.recent(key, now)) >= l.max {
		return false
	}
	l.attempts[key] = append(l.attempts[key], now)
	return true
}

// RemainingTime returns how long until key's oldest attempt leaves the
// window, or zero when key is not limited.
func (l *RateLimiter) RemainingTime(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.recent(key, now)
	if len(recent) < l.max {
		return 0
	}
	return l.window - now.Sub(recent[0])
}

// Reset forgets key's attempts, typically after a successful sign-in.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

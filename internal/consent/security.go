package consent

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Security thresholds.
const (
	MaxSecurityFlags = 10

	highRiskFailedAttempts = 5
	highRiskFlags          = 3
)

// SecurityFlag records one piece of suspicious activity.
type SecurityFlag struct {
	Reason    string    `json:"reason"`
	UserAgent string    `json:"user_agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SecurityStatus summarizes a subject's security counters.
type SecurityStatus struct {
	FailedAttempts  int  `json:"failed_attempts"`
	SuspiciousFlags int  `json:"suspicious_flags"`
	IsHighRisk      bool `json:"is_high_risk"`
}

// SecurityTracker keeps failed sign-in counts, suspicious-activity flags
// and the last login time. Writes need functional consent; reads do not.
type SecurityTracker struct {
	m *Manager
}

func (s *SecurityTracker) gate(ctx context.Context, subject string) (bool, error) {
	if !ValidSubject(subject) {
		return false, ErrInvalidSubject
	}
	return s.m.allowed(ctx, subject, CategoryFunctional), nil
}

// RecordFailedAttempt increments the failed sign-in counter and returns
// the new count. The counter expires a day after the last failure.
func (s *SecurityTracker) RecordFailedAttempt(ctx context.Context, subject string) (int, error) {
	ok, err := s.gate(ctx, subject)
	if !ok || err != nil {
		return 0, err
	}
	n, err := s.FailedAttempts(ctx, subject)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.m.putJSON(ctx, subject, KeyFailedAttempts, n, FailedAttemptsTTL); err != nil {
		return 0, err
	}
	return n, nil
}

// FailedAttempts returns the current failed sign-in count.
func (s *SecurityTracker) FailedAttempts(ctx context.Context, subject string) (int, error) {
	if !ValidSubject(subject) {
		return 0, ErrInvalidSubject
	}
	var n int
	if _, err := s.m.getJSON(ctx, subject, KeyFailedAttempts, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ClearFailedAttempts resets the counter, typically after a successful sign-in.
func (s *SecurityTracker) ClearFailedAttempts(ctx context.Context, subject string) error {
	if !ValidSubject(subject) {
		return ErrInvalidSubject
	}
	return s.m.store.Delete(ctx, subject, KeyFailedAttempts)
}

// FlagSuspicious appends a flag, keeping the last MaxSecurityFlags.
func (s *SecurityTracker) FlagSuspicious(ctx context.Context, subject, reason, userAgent string) (bool, error) {
	ok, err := s.gate(ctx, subject)
	if !ok || err != nil {
		return false, err
	}
	if strings.TrimSpace(reason) == "" {
		return false, fmt.Errorf("%w: empty reason", ErrInvalidValue)
	}
	flags, err := s.Flags(ctx, subject)
	if err != nil {
		return false, err
	}
	flags = append(flags, SecurityFlag{Reason: reason, UserAgent: userAgent, Timestamp: s.m.now().UTC()})
	if len(flags) > MaxSecurityFlags {
		flags = flags[len(flags)-MaxSecurityFlags:]
	}
	if err := s.m.putJSON(ctx, subject, KeySecurityFlags, flags, SecurityFlagsTTL); err != nil {
		return false, err
	}
	return true, nil
}

// Flags returns the stored flags, oldest first.
func (s *SecurityTracker) Flags(ctx context.Context, subject string) ([]SecurityFlag, error) {
	if !ValidSubject(subject) {
		return nil, ErrInvalidSubject
	}
	var flags []SecurityFlag
	if _, err := s.m.getJSON(ctx, subject, KeySecurityFlags, &flags); err != nil {
		return nil, err
	}
	return flags, nil
}

// RecordLogin stamps the last login time.
func (s *SecurityTracker) RecordLogin(ctx context.Context, subject string) error {
	ok, err := s.gate(ctx, subject)
	if !ok || err != nil {
		return err
	}
	return s.m.putJSON(ctx, subject, KeyLastLogin, s.m.now().UTC(), LastLoginTTL)
}

// LastLogin returns the last login time, or nil.
func (s *SecurityTracker) LastLogin(ctx context.Context, subject string) (*time.Time, error) {
	if !ValidSubject(subject) {
		return nil, ErrInvalidSubject
	}
	var at time.Time
	found, err := s.m.getJSON(ctx, subject, KeyLastLogin, &at)
	if err != nil || !found {
		return nil, err
	}
	return &at, nil
}

// CheckSecurity reports the counters and whether the subject is high risk:
// five or more failed attempts, or three or more flags.
func (s *SecurityTracker) CheckSecurity(ctx context.Context, subject string) (SecurityStatus, error) {
	attempts, err := s.FailedAttempts(ctx, subject)
	if err != nil {
		return SecurityStatus{}, err
	}
	flags, err := s.Flags(ctx, subject)
	if err != nil {
		return SecurityStatus{}, err
	}
	return SecurityStatus{
		FailedAttempts:  attempts,
		SuspiciousFlags: len(flags),
		IsHighRisk:      attempts >= highRiskFailedAttempts || len(flags) >= highRiskFlags,
	}, nil
}

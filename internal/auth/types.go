package auth

import (
	"errors"
	"fmt"
	"time"
)

// User represents a console account.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	DisplayName  string         `json:"display_name,omitempty"`
	Metadata     map[string]any `json:"user_metadata,omitempty"`
	PasswordHash string         `json:"-"` // never serialised
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RefreshToken represents a stored refresh token for session management.
// Every token issued by rotation shares its predecessor's FamilyID.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FamilyID  string    `json:"family_id"`
	TokenHash string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// ResetToken is a stored password reset token.
type ResetToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"` // never serialised
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Session is what a successful sign-in, sign-up or refresh returns.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"` // seconds
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

// SessionEventKind names a session change.
type SessionEventKind string

// Session change kinds.
const (
	EventSignedIn         SessionEventKind = "signed_in"
	EventSignedOut        SessionEventKind = "signed_out"
	EventTokenRefreshed   SessionEventKind = "token_refreshed"
	EventPasswordRecovery SessionEventKind = "password_recovery"
	EventUserUpdated      SessionEventKind = "user_updated"
)

// SessionEvent is emitted on every session change. Session is set for
// sign-in and refresh.
type SessionEvent struct {
	Kind    SessionEventKind `json:"event"`
	UserID  string           `json:"user_id"`
	Session *Session         `json:"-"`
	At      time.Time        `json:"at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenReuse         = errors.New("refresh token reuse detected")
	ErrRateLimited        = errors.New("too many sign-in attempts")
)

// RateLimitError is returned by SignIn while an email is locked out.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: try again in %d seconds", ErrRateLimited, int(e.RetryAfter.Round(time.Second)/time.Second))
}

// Unwrap returns ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/iot-console-core/internal/events"
)

// Default lifetimes.
const (
	DefaultRefreshTTL = 24 * time.Hour
	DefaultResetTTL   = time.Hour
)

// ResetNotifier delivers a password reset token to the account holder.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user *User, token string, expiresAt time.Time) error
}

// Logger defines the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// GatewayConfig holds the gateway's collaborators and settings.
type GatewayConfig struct {
	Users  UserRepository
	Tokens TokenRepository
	Resets ResetRepository

	// Secret signs access tokens. Required.
	Secret string

	// AccessTTL default: 15 minutes. RefreshTTL default: 24 hours.
	// ResetTTL default: 1 hour.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration

	// Limiter bounds sign-in attempts per email. Default: 5 per 5 minutes.
	Limiter *RateLimiter

	// Notifier delivers reset tokens. Without one, reset requests fail.
	Notifier ResetNotifier

	// Hashing defaults to DefaultArgon2Params.
	Hashing Argon2Params

	// Clock is replaceable for tests. Default: time.Now.
	Clock func() time.Time
}

// Gateway implements sign-up, sign-in, sign-out, refresh and password
// recovery over the account repositories.
type Gateway struct {
	users    UserRepository
	tokens   TokenRepository
	resets   ResetRepository
	secret   string
	access   time.Duration
	refresh  time.Duration
	reset    time.Duration
	limiter  *RateLimiter
	notifier ResetNotifier
	hashing  Argon2Params
	now      func() time.Time

	sessions events.Emitter[SessionEvent]

	loggerMu sync.RWMutex
	logger   Logger
}

// NewGateway creates a gateway, applying defaults for unset fields.
func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		users:    cfg.Users,
		tokens:   cfg.Tokens,
		resets:   cfg.Resets,
		secret:   cfg.Secret,
		access:   cfg.AccessTTL,
		refresh:  cfg.RefreshTTL,
		reset:    cfg.ResetTTL,
		limiter:  cfg.Limiter,
		notifier: cfg.Notifier,
		hashing:  cfg.Hashing,
		now:      cfg.Clock,
		logger:   noopLogger{},
	}
	if g.access <= 0 {
		g.access = defaultAccessTTL
	}
	if g.refresh <= 0 {
		g.refresh = DefaultRefreshTTL
	}
	if g.reset <= 0 {
		g.reset = DefaultResetTTL
	}
	if g.limiter == nil {
		g.limiter = NewRateLimiter(DefaultMaxAttempts, DefaultLimitWindow)
	}
	if g.hashing == (Argon2Params{}) {
		g.hashing = DefaultArgon2Params
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// SetLogger sets the logger for session activity.
func (g *Gateway) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
	g.sessions.SetLogger(logger)
}

func (g *Gateway) log() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// OnSessionChange registers fn for session events.
func (g *Gateway) OnSessionChange(fn func(SessionEvent)) (off func()) {
	return g.sessions.On(fn)
}

func (g *Gateway) emit(kind SessionEventKind, userID string, s *Session) {
	g.sessions.Emit(SessionEvent{Kind: kind, UserID: userID, Session: s, At: g.now().UTC()})
}

// SignUpInput is the data for a new account.
type SignUpInput struct {
	Email       string         `json:"email"`
	Password    string         `json:"password"`
	DisplayName string         `json:"display_name,omitempty"`
	Metadata    map[string]any `json:"user_metadata,omitempty"`
}

// SignUp creates an account and signs it in. The password must be strong.
func (g *Gateway) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	email := NormalizeEmail(in.Email)
	if !IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPasswordWith(in.Password, g.hashing)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		DisplayName:  in.DisplayName,
		Metadata:     in.Metadata,
		PasswordHash: hash,
	}
	if err := g.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s, err := g.issue(ctx, user, nil)
	if err != nil {
		return nil, err
	}
	g.log().Info("account created", "user_id", user.ID)
	g.emit(EventSignedIn, user.ID, s)
	return s, nil
}

// SignIn verifies credentials and starts a session. Unknown emails and
// wrong passwords both return ErrInvalidCredentials. Too many attempts
// for one email return a *RateLimitError.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*Session, error) {
	key := NormalizeEmail(email)
	if !g.limiter.Allow(key) {
		return nil, &RateLimitError{RetryAfter: g.limiter.RemainingTime(key)}
	}

	user, err := g.users.GetByEmail(ctx, key)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		g.log().Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	g.limiter.Reset(key)

	s, err := g.issue(ctx, user, nil)
	if err != nil {
		return nil, err
	}
	g.emit(EventSignedIn, user.ID, s)
	return s, nil
}

// SignOut revokes the refresh token's whole family.
func (g *Gateway) SignOut(ctx context.Context, refreshToken string) error {
	rt, err := g.tokens.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		return err
	}
	if err := g.tokens.RevokeFamily(ctx, rt.FamilyID); err != nil {
		return err
	}
	g.emit(EventSignedOut, rt.UserID, nil)
	return nil
}

// Refresh exchanges a refresh token for a new session in the same family.
// Presenting an already-rotated token revokes the family and returns
// ErrTokenReuse.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	rt, err := g.tokens.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, err
	}
	if rt.Revoked {
		return nil, g.reuseDetected(ctx, rt)
	}
	if !g.now().Before(rt.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	user, err := g.users.GetByID(ctx, rt.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}

	s, err := g.issue(ctx, user, rt)
	if errors.Is(err, ErrTokenRevoked) {
		return nil, g.reuseDetected(ctx, rt)
	}
	if err != nil {
		return nil, err
	}
	g.emit(EventTokenRefreshed, user.ID, s)
	return s, nil
}

func (g *Gateway) reuseDetected(ctx context.Context, rt *RefreshToken) error {
	g.log().Warn("refresh token reuse detected, revoking family",
		"user_id", rt.UserID, "family_id", rt.FamilyID)
	if err := g.tokens.RevokeFamily(ctx, rt.FamilyID); err != nil {
		return err
	}
	return ErrTokenReuse
}

// issue creates a refresh token, rotating from prev when set, and signs
// an access token bound to its family.
func (g *Gateway) issue(ctx context.Context, user *User, prev *RefreshToken) (*Session, error) {
	raw, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	now := g.now()
	rt := &RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(g.refresh).UTC(),
	}
	if prev != nil {
		rt.FamilyID = prev.FamilyID
		err = g.tokens.RotateRefreshToken(ctx, prev.ID, rt)
	} else {
		err = g.tokens.Create(ctx, rt)
	}
	if err != nil {
		return nil, err
	}

	access, err := GenerateAccessToken(user, rt.FamilyID, g.secret, g.access, now)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "bearer",
		ExpiresIn:    int(g.access / time.Second),
		ExpiresAt:    now.Add(g.access).UTC(),
		User:         user,
	}, nil
}

// RequestPasswordReset issues a reset token and hands it to the notifier.
// Unknown emails succeed silently so the endpoint cannot be used to
// probe for accounts. A new request supersedes earlier tokens.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if !IsValidEmail(email) {
		return ErrInvalidEmail
	}
	if g.notifier == nil {
		return errors.New("password reset delivery is not configured")
	}

	user, err := g.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		g.log().Debug("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := GenerateRefreshToken()
	if err != nil {
		return err
	}
	now := g.now().UTC()
	token := &ResetToken{
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(g.reset),
		CreatedAt: now,
	}
	if err := g.resets.DeleteForUser(ctx, user.ID); err != nil {
		return err
	}
	if err := g.resets.Create(ctx, token); err != nil {
		return err
	}
	if err := g.notifier.SendPasswordReset(ctx, user, raw, token.ExpiresAt); err != nil {
		return fmt.Errorf("delivering reset token: %w", err)
	}

	g.emit(EventPasswordRecovery, user.ID, nil)
	return nil
}

// UpdatePasswordWithToken consumes a reset token, sets the new password
// and revokes every refresh token the user holds. Access tokens already
// issued stay valid until they expire.
func (g *Gateway) UpdatePasswordWithToken(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	rt, err := g.resets.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		return err
	}
	now := g.now().UTC()
	if rt.UsedAt != nil {
		return ErrTokenRevoked
	}
	if !now.Before(rt.ExpiresAt) {
		return ErrTokenExpired
	}

	hash, err := HashPasswordWith(newPassword, g.hashing)
	if err != nil {
		return err
	}
	if err := g.resets.MarkUsed(ctx, rt.ID, now); err != nil {
		return err
	}
	if err := g.users.UpdatePassword(ctx, rt.UserID, hash); err != nil {
		return err
	}
	if err := g.tokens.RevokeAllForUser(ctx, rt.UserID); err != nil {
		return err
	}

	g.log().Info("password updated via reset token", "user_id", rt.UserID)
	g.emit(EventUserUpdated, rt.UserID, nil)
	return nil
}

// VerifyAccessToken validates an access token's signature and expiry.
func (g *Gateway) VerifyAccessToken(accessToken string) (*CustomClaims, error) {
	return ParseToken(accessToken, g.secret, jwt.WithTimeFunc(g.now))
}

// CurrentUser returns the account an access token belongs to.
func (g *Gateway) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	claims, err := g.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return g.users.GetByID(ctx, claims.Subject)
}

// PurgeExpired deletes expired refresh tokens.
func (g *Gateway) PurgeExpired(ctx context.Context) (int64, error) {
	return g.tokens.DeleteExpired(ctx)
}

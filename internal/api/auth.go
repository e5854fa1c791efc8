package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/iot-console-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

type signUpRequest struct {
	Email       string         `json:"email"`
	Password    string         `json:"password"`
	DisplayName string         `json:"display_name"`
	Metadata    map[string]any `json:"user_metadata"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	// RememberEmail stores the email for the client when functional
	// consent allows it.
	RememberEmail bool `json:"remember_email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type updatePasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
	now     func() time.Time
}

type ticketEntry struct {
	userID    string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry), now: time.Now}
}

// issue creates a ticket for userID.
func (ts *ticketStore) issue(userID string) string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{userID: userID, expiresAt: ts.now().Add(ticketTTL)}
	ts.mu.Unlock()
	return ticket
}

// consume validates a ticket and removes it. It returns the user the
// ticket was issued to.
func (ts *ticketStore) consume(ticket string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return "", false
	}
	delete(ts.tickets, ticket)

	if !ts.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.userID, true
}

// clean removes expired tickets.
func (ts *ticketStore) clean() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	for ticket, entry := range ts.tickets {
		if !now.Before(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

func (ts *ticketStore) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// handleSignUp creates an account and returns its first session.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	session, err := s.auth.SignUp(r.Context(), auth.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    Error{Code: ErrCodeValidation, Message: "Password is not strong enough."},
				"strength": auth.CheckPasswordStrength(req.Password),
			})
			return
		}
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// handleSignIn authenticates with email and password.
//
// Failed attempts are also counted by the consent security tracker for the
// calling client, which only records them with functional consent.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ctx := r.Context()
	subject := consentSubject(r)

	session, err := s.auth.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		if subject != "" && errors.Is(err, auth.ErrInvalidCredentials) {
			if _, trackErr := s.consent.Security().RecordFailedAttempt(ctx, subject); trackErr != nil {
				s.logger.Debug("recording failed sign-in attempt", "error", trackErr)
			}
		}
		writeAuthError(w, err)
		return
	}

	if subject != "" {
		s.afterSignIn(ctx, subject, req)
	}

	writeJSON(w, http.StatusOK, session)
}

// afterSignIn updates the client's consent-gated records. Failures only log.
func (s *Server) afterSignIn(ctx context.Context, subject string, req signInRequest) {
	sec := s.consent.Security()
	if err := sec.ClearFailedAttempts(ctx, subject); err != nil {
		s.logger.Debug("clearing failed attempts", "error", err)
	}
	if err := sec.RecordLogin(ctx, subject); err != nil {
		s.logger.Debug("recording login", "error", err)
	}

	email := ""
	if req.RememberEmail {
		email = req.Email
	}
	if err := s.consent.RememberEmail(ctx, subject, email); err != nil {
		s.logger.Debug("remembering email", "error", err)
	}
}

// handleSignOut revokes the refresh token family and clears the client's
// non-essential preference data.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	if err := s.auth.SignOut(r.Context(), req.RefreshToken); err != nil {
		writeAuthError(w, err)
		return
	}

	if subject := consentSubject(r); subject != "" {
		if err := s.consent.CleanupOnSignOut(r.Context(), subject); err != nil {
			s.logger.Warn("preference cleanup on sign-out failed", "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh rotates a refresh token into a new session.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	session, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleRequestPasswordReset always answers 202 for a well-formed email so
// the response does not reveal whether an account exists.
func (s *Server) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !auth.IsValidEmail(req.Email) {
		writeAuthError(w, auth.ErrInvalidEmail)
		return
	}

	if err := s.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.logger.Error("password reset request failed", "error", err)
		writeInternalError(w, "could not send reset instructions")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists for this email, reset instructions have been sent.",
	})
}

// handleUpdatePassword consumes a reset token and sets a new password.
func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeBadRequest(w, "token is required")
		return
	}

	if err := s.auth.UpdatePasswordWithToken(r.Context(), req.Token, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePasswordStrength scores a candidate password for the sign-up form.
func (s *Server) handlePasswordStrength(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, auth.CheckPasswordStrength(r.URL.Query().Get("password")))
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	user, err := s.auth.CurrentUser(r.Context(), token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(ownerID(r)),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop removes expired tickets periodically until the context
// is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.clean()
		}
	}
}

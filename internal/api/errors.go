package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/iot-console-core/internal/auth"
	"github.com/nerrad567/iot-console-core/internal/consent"
	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/devicesync"
)

// Error is the body of the error envelope.
type Error struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Fields     []device.FieldError `json:"fields,omitempty"`
	RetryAfter int                 `json:"retry_after,omitempty"` // seconds
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeTokenExpired   = "token_expired"
	ErrCodeToggleInFlight = "toggle_in_flight"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: Error{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps a device store or synchronizer failure onto a
// status code by error kind.
func writeDeviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, devicesync.ErrToggleInFlight) {
		writeError(w, http.StatusConflict, ErrCodeToggleInFlight,
			"A toggle for this device is already in progress.")
		return
	}

	msg := device.UserMessage(err)
	switch device.Kind(err) {
	case device.KindNetwork:
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msg)
	case device.KindPermission:
		writeError(w, http.StatusForbidden, ErrCodeForbidden, msg)
	case device.KindDuplicate:
		writeError(w, http.StatusConflict, ErrCodeConflict, msg)
	case device.KindValidation:
		body := Error{Code: ErrCodeValidation, Message: msg}
		var ve *device.ValidationError
		if errors.As(err, &ve) {
			body.Fields = ve.Fields
		}
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: body})
	case device.KindNotFound:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)
	default:
		writeInternalError(w, msg)
	}
}

// writeAuthError maps a credential gateway failure onto a status code.
func writeAuthError(w http.ResponseWriter, err error) {
	var limited *auth.RateLimitError
	switch {
	case errors.As(err, &limited):
		secs := int(limited.RetryAfter.Seconds() + 0.5)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: Error{
			Code:       ErrCodeRateLimited,
			Message:    "Too many sign-in attempts. Please try again later.",
			RetryAfter: secs,
		}})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "Invalid email or password.")
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "An account with this email already exists.")
	case errors.Is(err, auth.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Please enter a valid email address.")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, ErrCodeTokenExpired, "Session expired. Please sign in again.")
	case errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenReuse):
		writeUnauthorized(w, "Invalid or revoked token.")
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	default:
		writeInternalError(w, "authentication failed")
	}
}

// writeConsentError maps a consent manager failure onto a status code.
func writeConsentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consent.ErrInvalidSubject):
		writeBadRequest(w, "invalid client identifier")
	case errors.Is(err, consent.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, consent.ErrNoAnalyticsConsent):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "analytics consent not given")
	default:
		writeInternalError(w, "preference store unavailable")
	}
}

package device

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the device package.
//
// Sentinels are matched with errors.Is; the typed errors below carry context
// and are matched with errors.As:
//
//	var dup *device.DuplicateDeviceIDError
//	if errors.As(err, &dup) {
//	    // dup.DeviceID is already taken by this owner
//	}
var (
	// ErrDeviceNotFound is returned when a store id does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when an owner already has a device with the same device_id.
	ErrDeviceExists = errors.New("device: device_id already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrNotOwner is returned when a device belongs to another owner.
	ErrNotOwner = errors.New("device: not owned by caller")

	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("device: store unavailable")
)

// ErrorKind classifies failures so callers can choose a user-facing message
// without inspecting driver errors.
type ErrorKind string

// Error kinds.
const (
	KindNetwork    ErrorKind = "network"
	KindPermission ErrorKind = "permission"
	KindDuplicate  ErrorKind = "duplicate"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindUnknown    ErrorKind = "unknown"
)

// NetworkError wraps a failure to reach the backing store.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("device: %s: store unavailable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// PermissionError is returned when a caller touches a device owned by someone else.
type PermissionError struct {
	DeviceRef string
	OwnerID   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("device: %s is not accessible to owner %s", e.DeviceRef, e.OwnerID)
}

func (e *PermissionError) Unwrap() error { return ErrNotOwner }

// DuplicateDeviceIDError reports a device_id collision within one owner's devices.
type DuplicateDeviceIDError struct {
	DeviceID string
}

func (e *DuplicateDeviceIDError) Error() string {
	return fmt.Sprintf("device: device_id %q already exists", e.DeviceID)
}

func (e *DuplicateDeviceIDError) Unwrap() error { return ErrDeviceExists }

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field problem found in one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "device: invalid: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDevice }

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// orNil returns nil when no field problems were recorded.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NotFoundError is returned when a device reference does not resolve.
type NotFoundError struct {
	DeviceRef string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("device: %s not found", e.DeviceRef)
}

func (e *NotFoundError) Unwrap() error { return ErrDeviceNotFound }

// Kind classifies err into one of the error kinds. Nil yields "".
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnavailable):
		return KindNetwork
	case errors.Is(err, ErrNotOwner):
		return KindPermission
	case errors.Is(err, ErrDeviceExists):
		return KindDuplicate
	case errors.Is(err, ErrInvalidDevice):
		return KindValidation
	case errors.Is(err, ErrDeviceNotFound):
		return KindNotFound
	default:
		return KindUnknown
	}
}

// UserMessage returns a short message suitable for display.
func UserMessage(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case KindNetwork:
		return "Network error. Please check your connection and try again."
	case KindPermission:
		return "You do not have permission to perform this action."
	case KindDuplicate:
		var dup *DuplicateDeviceIDError
		if errors.As(err, &dup) {
			return fmt.Sprintf("Device ID %q already exists. Please choose a different ID.", dup.DeviceID)
		}
		return "Device ID already exists. Please choose a different ID."
	case KindValidation:
		var ve *ValidationError
		if errors.As(err, &ve) && len(ve.Fields) > 0 {
			return ve.Fields[0].Message
		}
		return "Invalid device data."
	case KindNotFound:
		return "Device not found."
	default:
		return "An unexpected error occurred."
	}
}

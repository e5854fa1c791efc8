package device

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation constants.
const (
	minDeviceIDLength = 3
	maxDeviceIDLength = 20
	maxNameLength     = 100
	maxLocationLength = 100
	maxQRCodeLength   = 2048
)

var deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateInput checks a create request and reports every problem at once.
// The returned error is a *ValidationError or nil.
func ValidateInput(in CreateInput) error {
	ve := &ValidationError{}

	validateDeviceID(ve, in.DeviceID)
	validateText(ve, "name", "Device name", in.Name, maxNameLength)
	validateType(ve, in.Type)
	validateText(ve, "location", "Location", in.Location, maxLocationLength)
	if in.QRCode != nil {
		validateQRCode(ve, *in.QRCode)
	}

	return ve.orNil()
}

// ValidatePatch checks only the fields a patch sets.
func ValidatePatch(p Patch) error {
	ve := &ValidationError{}

	if p.Name != nil {
		validateText(ve, "name", "Device name", *p.Name, maxNameLength)
	}
	if p.Type != nil {
		validateType(ve, *p.Type)
	}
	if p.Location != nil {
		validateText(ve, "location", "Location", *p.Location, maxLocationLength)
	}
	if p.QRCode != nil {
		validateQRCode(ve, *p.QRCode)
	}

	return ve.orNil()
}

// ValidDeviceID reports whether id is an acceptable user-visible device id.
func ValidDeviceID(id string) bool {
	n := len(id)
	return n >= minDeviceIDLength && n <= maxDeviceIDLength && deviceIDRegex.MatchString(id)
}

func validateDeviceID(ve *ValidationError, id string) {
	switch {
	case strings.TrimSpace(id) == "":
		ve.add("device_id", "Device ID is required")
	case !deviceIDRegex.MatchString(id):
		ve.add("device_id", "Device ID can only contain letters, numbers, underscores, and hyphens")
	case len(id) < minDeviceIDLength || len(id) > maxDeviceIDLength:
		ve.add("device_id", fmt.Sprintf("Device ID must be %d-%d characters", minDeviceIDLength, maxDeviceIDLength))
	}
}

func validateText(ve *ValidationError, field, label, value string, maxLen int) {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		ve.add(field, label+" is required")
	case utf8.RuneCountInString(trimmed) > maxLen:
		ve.add(field, fmt.Sprintf("%s must be at most %d characters", label, maxLen))
	}
}

func validateType(ve *ValidationError, t DeviceType) {
	switch {
	case strings.TrimSpace(string(t)) == "":
		ve.add("type", "Device type is required")
	case !ValidDeviceType(t):
		ve.add("type", fmt.Sprintf("Device type %q is not supported", t))
	}
}

func validateQRCode(ve *ValidationError, qr string) {
	if len(qr) > maxQRCodeLength {
		ve.add("qr_code", fmt.Sprintf("QR code exceeds %d bytes", maxQRCodeLength))
	}
}

// normalizeInput trims whitespace from free-text fields.
func normalizeInput(in CreateInput) CreateInput {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	return in
}

package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// emailPattern is deliberately loose: something@something.tld, no spaces.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// maxEmailLength follows the SMTP path limit.
const maxEmailLength = 254

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail reports whether email looks like an address.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// Password strength levels.
const (
	StrengthWeak   = "weak"
	StrengthMedium = "medium"
	StrengthStrong = "strong"
)

// minPasswordLength is the length requirement.
const minPasswordLength = 8

// strongScore is the number of met requirements needed for IsStrong.
const strongScore = 4

// specialChars are the characters that satisfy the special requirement.
const specialChars = `!@#$%^&*(),.?":{}|<>`

// PasswordRequirements lists which strength requirements a password meets.
type PasswordRequirements struct {
	MinLength bool `json:"min_length"`
	Uppercase bool `json:"uppercase"`
	Lowercase bool `json:"lowercase"`
	Digit     bool `json:"digit"`
	Special   bool `json:"special"`
}

// PasswordStrength is the result of CheckPasswordStrength.
type PasswordStrength struct {
	Requirements PasswordRequirements `json:"requirements"`
	Score        int                  `json:"score"`
	IsStrong     bool                 `json:"is_strong"`
	Strength     string               `json:"strength"`
}

// Missing names the unmet requirements.
func (s PasswordStrength) Missing() []string {
	var out []string
	r := s.Requirements
	if !r.MinLength {
		out = append(out, fmt.Sprintf("at least %d characters", minPasswordLength))
	}
	if !r.Uppercase {
		out = append(out, "an uppercase letter")
	}
	if !r.Lowercase {
		out = append(out, "a lowercase letter")
	}
	if !r.Digit {
		out = append(out, "a digit")
	}
	if !r.Special {
		out = append(out, "a special character")
	}
	return out
}

// CheckPasswordStrength scores password: one point per met requirement.
// Four or more is strong, two or three medium, less is weak.
func CheckPasswordStrength(password string) PasswordStrength {
	var r PasswordRequirements
	r.MinLength = len([]rune(password)) >= minPasswordLength
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			r.Uppercase = true
		case unicode.IsLower(c):
			r.Lowercase = true
		case unicode.IsDigit(c):
			r.Digit = true
		case strings.ContainsRune(specialChars, c):
			r.Special = true
		}
	}

	score := 0
	for _, met := range []bool{r.MinLength, r.Uppercase, r.Lowercase, r.Digit, r.Special} {
		if met {
			score++
		}
	}

	s := PasswordStrength{Requirements: r, Score: score, IsStrong: score >= strongScore}
	switch {
	case score < 2: //nolint:mnd // weak below two requirements
		s.Strength = StrengthWeak
	case score < strongScore:
		s.Strength = StrengthMedium
	default:
		s.Strength = StrengthStrong
	}
	return s
}

// ValidatePassword returns an error wrapping ErrWeakPassword unless the
// password is strong.
func ValidatePassword(password string) error {
	s := CheckPasswordStrength(password)
	if s.IsStrong {
		return nil
	}
	return fmt.Errorf("%w: needs %s", ErrWeakPassword, strings.Join(s.Missing(), ", "))
}

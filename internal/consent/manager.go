// Package consent stores per-subject consent preferences and the small
// pieces of client state that depend on them: analytics sessions, security
// counters, the remembered sign-in email and display preferences.
//
// A subject is either an anonymous browser client (identified by the
// X-Console-Client header) or a signed-in user id. Every value lives in a
// Store with an expiry, so the Redis implementation behaves like the
// browser cookies it replaces.
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/nerrad567/iot-console-core/internal/events"
)

// Category is a consent category.
type Category string

// Consent categories.
const (
	CategoryNecessary  Category = "necessary"
	CategoryFunctional Category = "functional"
	CategoryAnalytics  Category = "analytics"
	CategoryMarketing  Category = "marketing"
)

// Stored value names.
const (
	KeyPreferences      = "consent_preferences"
	KeyAnalyticsConsent = "analytics_consent"
	KeyRememberedEmail  = "remembered_email"
	KeyTheme            = "theme"
	KeyLanguage         = "language"
	KeySession          = "session_data"
	KeyPageViews        = "page_views"
	KeyFeatureUsage     = "feature_usage"
	KeyFailedAttempts   = "failed_attempts"
	KeySecurityFlags    = "security_flags"
	KeyLastLogin        = "last_login"
)

// Expiry per value, matching the lifetimes of the original cookies.
const (
	day = 24 * time.Hour

	PreferencesTTL     = 365 * day
	RememberedEmailTTL = 90 * day
	ThemeTTL           = 365 * day
	SessionTTL         = 1 * day
	TrackingTTL        = 30 * day
	FailedAttemptsTTL  = 1 * day
	SecurityFlagsTTL   = 7 * day
	LastLoginTTL       = 30 * day
)

// essentialKeys survive ClearNonEssential and sign-out cleanup.
var essentialKeys = map[string]bool{
	KeyPreferences:      true,
	KeyAnalyticsConsent: true,
	KeyRememberedEmail:  true,
	KeyTheme:            true,
	KeyLanguage:         true,
}

// Theme values.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

// DefaultLanguage is returned when no language has been chosen.
const DefaultLanguage = "en"

var languages = map[string]bool{"en": true, "es": true, "fr": true, "de": true, "zh": true, "ja": true}

// Preferences are a subject's consent choices. Necessary is always true.
// Timestamp is nil until the subject has made a choice.
type Preferences struct {
	Necessary  bool       `json:"necessary"`
	Functional bool       `json:"functional"`
	Analytics  bool       `json:"analytics"`
	Marketing  bool       `json:"marketing"`
	Timestamp  *time.Time `json:"timestamp"`
}

// DefaultPreferences is what a subject gets before choosing.
func DefaultPreferences() Preferences {
	return Preferences{Necessary: true}
}

// Allows reports whether c is permitted. Unknown categories are not.
func (p Preferences) Allows(c Category) bool {
	switch c {
	case CategoryNecessary:
		return true
	case CategoryFunctional:
		return p.Functional
	case CategoryAnalytics:
		return p.Analytics
	case CategoryMarketing:
		return p.Marketing
	}
	return false
}

// Change is emitted after a subject's preferences are saved.
type Change struct {
	Subject     string      `json:"subject"`
	Preferences Preferences `json:"preferences"`
}

// Logger defines the logging interface used by the consent manager.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager reads and writes consent state for any number of subjects.
type Manager struct {
	store Store
	now   func() time.Time

	changes events.Emitter[Change]

	loggerMu sync.RWMutex
	logger   Logger
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now, logger: noopLogger{}}
}

// SetLogger sets the logger for store failures and observer panics.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
	m.changes.SetLogger(logger)
}

func (m *Manager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// OnChange registers fn for preference changes.
func (m *Manager) OnChange(fn func(Change)) (off func()) {
	return m.changes.On(fn)
}

// SetPreferences saves p for subject. Necessary is forced on, the
// timestamp is stamped now and the analytics flag is mirrored to its own
// key for cheap gating.
func (m *Manager) SetPreferences(ctx context.Context, subject string, p Preferences) (Preferences, error) {
	if !ValidSubject(subject) {
		return Preferences{}, ErrInvalidSubject
	}

	now := m.now().UTC()
	saved := Preferences{
		Necessary:  true,
		Functional: p.Functional,
		Analytics:  p.Analytics,
		Marketing:  p.Marketing,
		Timestamp:  &now,
	}
	if err := m.putJSON(ctx, subject, KeyPreferences, saved, PreferencesTTL); err != nil {
		return Preferences{}, err
	}
	if err := m.putJSON(ctx, subject, KeyAnalyticsConsent, saved.Analytics, PreferencesTTL); err != nil {
		return Preferences{}, err
	}

	m.changes.Emit(Change{Subject: subject, Preferences: saved})
	return saved, nil
}

// Preferences returns the subject's saved choices, or DefaultPreferences.
func (m *Manager) Preferences(ctx context.Context, subject string) (Preferences, error) {
	if !ValidSubject(subject) {
		return Preferences{}, ErrInvalidSubject
	}
	p := DefaultPreferences()
	found, err := m.getJSON(ctx, subject, KeyPreferences, &p)
	if err != nil {
		return Preferences{}, err
	}
	if !found {
		return DefaultPreferences(), nil
	}
	p.Necessary = true
	return p, nil
}

// HasGivenConsent reports whether the subject has ever saved preferences.
func (m *Manager) HasGivenConsent(ctx context.Context, subject string) (bool, error) {
	p, err := m.Preferences(ctx, subject)
	if err != nil {
		return false, err
	}
	return p.Timestamp != nil, nil
}

// IsAllowed reports whether category c is permitted for subject.
func (m *Manager) IsAllowed(ctx context.Context, subject string, c Category) (bool, error) {
	p, err := m.Preferences(ctx, subject)
	if err != nil {
		return false, err
	}
	return p.Allows(c), nil
}

// ClearNonEssential deletes everything except the consent record, the
// remembered email and display preferences.
func (m *Manager) ClearNonEssential(ctx context.Context, subject string) error {
	if !ValidSubject(subject) {
		return ErrInvalidSubject
	}
	keys, err := m.store.Keys(ctx, subject)
	if err != nil {
		return err
	}
	var drop []string
	for _, k := range keys {
		if !essentialKeys[k] {
			drop = append(drop, k)
		}
	}
	return m.store.Delete(ctx, subject, drop...)
}

// CleanupOnSignOut clears non-essential state and, when functional storage
// is allowed, stamps the last login time.
func (m *Manager) CleanupOnSignOut(ctx context.Context, subject string) error {
	if err := m.ClearNonEssential(ctx, subject); err != nil {
		return err
	}
	return m.Security().RecordLogin(ctx, subject)
}

// RememberEmail stores the sign-in email for 90 days. An empty email
// forgets it.
func (m *Manager) RememberEmail(ctx context.Context, subject, email string) error {
	if !ValidSubject(subject) {
		return ErrInvalidSubject
	}
	if email == "" {
		return m.store.Delete(ctx, subject, KeyRememberedEmail)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: email %q", ErrInvalidValue, email)
	}
	return m.store.Set(ctx, subject, KeyRememberedEmail, []byte(email), RememberedEmailTTL)
}

// RememberedEmail returns the stored email, or "".
func (m *Manager) RememberedEmail(ctx context.Context, subject string) (string, error) {
	return m.getString(ctx, subject, KeyRememberedEmail, "")
}

// SetTheme stores one of light, dark or auto.
func (m *Manager) SetTheme(ctx context.Context, subject, theme string) error {
	if !ValidSubject(subject) {
		return ErrInvalidSubject
	}
	switch theme {
	case ThemeLight, ThemeDark, ThemeAuto:
	default:
		return fmt.Errorf("%w: theme %q", ErrInvalidValue, theme)
	}
	return m.store.Set(ctx, subject, KeyTheme, []byte(theme), ThemeTTL)
}

// Theme returns the stored theme, defaulting to light.
func (m *Manager) Theme(ctx context.Context, subject string) (string, error) {
	return m.getString(ctx, subject, KeyTheme, ThemeLight)
}

// SetLanguage stores a supported language code.
func (m *Manager) SetLanguage(ctx context.Context, subject, lang string) error {
	if !ValidSubject(subject) {
		return ErrInvalidSubject
	}
	if !languages[lang] {
		return fmt.Errorf("%w: language %q", ErrInvalidValue, lang)
	}
	return m.store.Set(ctx, subject, KeyLanguage, []byte(lang), ThemeTTL)
}

// Language returns the stored language, defaulting to en.
func (m *Manager) Language(ctx context.Context, subject string) (string, error) {
	return m.getString(ctx, subject, KeyLanguage, DefaultLanguage)
}

// DisplayPreferences groups the non-consent preferences.
type DisplayPreferences struct {
	Theme           string `json:"theme"`
	Language        string `json:"language"`
	RememberedEmail string `json:"remembered_email,omitempty"`
}

// Display returns the subject's display preferences with defaults applied.
func (m *Manager) Display(ctx context.Context, subject string) (DisplayPreferences, error) {
	var d DisplayPreferences
	var err error
	if d.Theme, err = m.Theme(ctx, subject); err != nil {
		return d, err
	}
	if d.Language, err = m.Language(ctx, subject); err != nil {
		return d, err
	}
	d.RememberedEmail, err = m.RememberedEmail(ctx, subject)
	return d, err
}

// Export is a subject's complete stored data.
type Export struct {
	Subject    string                     `json:"subject"`
	Consent    Preferences                `json:"consent"`
	Display    DisplayPreferences         `json:"preferences"`
	Analytics  *AnalyticsSummary          `json:"analytics,omitempty"`
	Security   SecurityStatus             `json:"security"`
	LastLogin  *time.Time                 `json:"last_login,omitempty"`
	Values     map[string]json.RawMessage `json:"values"`
	ExportedAt time.Time                  `json:"export_date"`
}

// Export collects everything stored for subject. Analytics is included
// only while analytics consent is given.
func (m *Manager) Export(ctx context.Context, subject string) (*Export, error) {
	consent, err := m.Preferences(ctx, subject)
	if err != nil {
		return nil, err
	}
	display, err := m.Display(ctx, subject)
	if err != nil {
		return nil, err
	}
	sec := m.Security()
	status, err := sec.CheckSecurity(ctx, subject)
	if err != nil {
		return nil, err
	}
	lastLogin, err := sec.LastLogin(ctx, subject)
	if err != nil {
		return nil, err
	}

	out := &Export{
		Subject:    subject,
		Consent:    consent,
		Display:    display,
		Security:   status,
		LastLogin:  lastLogin,
		Values:     make(map[string]json.RawMessage),
		ExportedAt: m.now().UTC(),
	}

	if consent.Analytics {
		summary, err := m.Tracker().Summary(ctx, subject)
		if err != nil && !errors.Is(err, ErrNoAnalyticsConsent) {
			return nil, err
		}
		out.Analytics = summary
	}

	keys, err := m.store.Keys(ctx, subject)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		raw, err := m.store.Get(ctx, subject, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !json.Valid(raw) {
			raw, _ = json.Marshal(string(raw))
		}
		out.Values[k] = raw
	}
	return out, nil
}

// Tracker returns the analytics tracker sharing this manager's store.
func (m *Manager) Tracker() *Tracker {
	return &Tracker{m: m}
}

// Security returns the security tracker sharing this manager's store.
func (m *Manager) Security() *SecurityTracker {
	return &SecurityTracker{m: m}
}

// allowed reads the consent record for gating. Store failures deny.
func (m *Manager) allowed(ctx context.Context, subject string, c Category) bool {
	ok, err := m.IsAllowed(ctx, subject, c)
	if err != nil {
		m.log().Warn("consent lookup failed", "subject", subject, "error", err)
		return false
	}
	return ok
}

func (m *Manager) putJSON(ctx context.Context, subject, name string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return m.store.Set(ctx, subject, name, raw, ttl)
}

// getJSON decodes name into v. A missing key returns found=false. A value
// that no longer decodes is treated as missing and logged.
func (m *Manager) getJSON(ctx context.Context, subject, name string, v any) (bool, error) {
	raw, err := m.store.Get(ctx, subject, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		m.log().Warn("discarding unreadable consent value", "subject", subject, "key", name, "error", err)
		return false, nil
	}
	return true, nil
}

func (m *Manager) getString(ctx context.Context, subject, name, def string) (string, error) {
	if !ValidSubject(subject) {
		return "", ErrInvalidSubject
	}
	raw, err := m.store.Get(ctx, subject, name)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

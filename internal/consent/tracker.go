package consent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// MaxSessionEvents is how many events a session keeps; older ones are dropped.
const MaxSessionEvents = 50

// Session is an analytics session.
type Session struct {
	ID           string     `json:"session_id"`
	StartTime    time.Time  `json:"start_time"`
	PageViews    int        `json:"page_views"`
	LastPage     string     `json:"last_page,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	Events       []Event    `json:"events"`
}

// Event is a named analytics event with arbitrary data.
type Event struct {
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FeatureUsage counts feature uses.
type FeatureUsage struct {
	Counts      map[string]int `json:"counts"`
	LastUpdated time.Time      `json:"last_updated"`
}

// AnalyticsSummary is everything the tracker has stored for a subject.
type AnalyticsSummary struct {
	Session      *Session       `json:"session,omitempty"`
	PageViews    map[string]int `json:"page_views"`
	FeatureUsage FeatureUsage   `json:"feature_usage"`
}

var (
	sessionSuffixOnce sync.Once
	sessionSuffix     func() string
)

// newSessionID returns "<unix millis>_<9 random base36 chars>".
func newSessionID(now time.Time) string {
	sessionSuffixOnce.Do(func() {
		gen, err := nanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", 9)
		if err != nil {
			panic(fmt.Sprintf("consent: session id generator: %v", err))
		}
		sessionSuffix = gen
	})
	return fmt.Sprintf("%d_%s", now.UnixMilli(), sessionSuffix())
}

// Tracker records usage analytics. Every method is a no-op returning
// false while the subject has not allowed analytics, so nothing is
// written for subjects who opted out.
type Tracker struct {
	m *Manager
}

func (t *Tracker) gate(ctx context.Context, subject string) (bool, error) {
	if !ValidSubject(subject) {
		return false, ErrInvalidSubject
	}
	return t.m.allowed(ctx, subject, CategoryAnalytics), nil
}

func (t *Tracker) session(ctx context.Context, subject string) (*Session, error) {
	var s Session
	found, err := t.m.getJSON(ctx, subject, KeySession, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// StartSession begins a new session, replacing any current one.
func (t *Tracker) StartSession(ctx context.Context, subject string) (*Session, error) {
	ok, err := t.gate(ctx, subject)
	if !ok || err != nil {
		return nil, err
	}
	now := t.m.now().UTC()
	s := &Session{
		ID:        newSessionID(now),
		StartTime: now,
		PageViews: 1,
		Events:    []Event{},
	}
	if err := t.m.putJSON(ctx, subject, KeySession, s, SessionTTL); err != nil {
		return nil, err
	}
	return s, nil
}

// TrackPageView counts a view of path and updates the current session.
func (t *Tracker) TrackPageView(ctx context.Context, subject, path string) (bool, error) {
	ok, err := t.gate(ctx, subject)
	if !ok || err != nil {
		return false, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return false, fmt.Errorf("%w: empty page", ErrInvalidValue)
	}
	now := t.m.now().UTC()

	s, err := t.session(ctx, subject)
	if err != nil {
		return false, err
	}
	if s != nil {
		s.PageViews++
		s.LastPage = path
		s.LastActivity = &now
		if err := t.m.putJSON(ctx, subject, KeySession, s, SessionTTL); err != nil {
			return false, err
		}
	}

	views := map[string]int{}
	if _, err := t.m.getJSON(ctx, subject, KeyPageViews, &views); err != nil {
		return false, err
	}
	views[path]++
	if err := t.m.putJSON(ctx, subject, KeyPageViews, views, TrackingTTL); err != nil {
		return false, err
	}
	return true, nil
}

// TrackFeatureUsage increments the use count of feature.
func (t *Tracker) TrackFeatureUsage(ctx context.Context, subject, feature string) (bool, error) {
	ok, err := t.gate(ctx, subject)
	if !ok || err != nil {
		return false, err
	}
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return false, fmt.Errorf("%w: empty feature", ErrInvalidValue)
	}

	var usage FeatureUsage
	if _, err := t.m.getJSON(ctx, subject, KeyFeatureUsage, &usage); err != nil {
		return false, err
	}
	if usage.Counts == nil {
		usage.Counts = make(map[string]int)
	}
	usage.Counts[feature]++
	usage.LastUpdated = t.m.now().UTC()
	if err := t.m.putJSON(ctx, subject, KeyFeatureUsage, usage, TrackingTTL); err != nil {
		return false, err
	}
	return true, nil
}

// TrackEvent appends an event to the current session, keeping the last
// MaxSessionEvents. Without a session the event is dropped.
func (t *Tracker) TrackEvent(ctx context.Context, subject, name string, data map[string]any) (bool, error) {
	ok, err := t.gate(ctx, subject)
	if !ok || err != nil {
		return false, err
	}
	if strings.TrimSpace(name) == "" {
		return false, fmt.Errorf("%w: empty event name", ErrInvalidValue)
	}

	s, err := t.session(ctx, subject)
	if err != nil || s == nil {
		return false, err
	}
	s.Events = append(s.Events, Event{Name: name, Data: data, Timestamp: t.m.now().UTC()})
	if len(s.Events) > MaxSessionEvents {
		s.Events = s.Events[len(s.Events)-MaxSessionEvents:]
	}
	if err := t.m.putJSON(ctx, subject, KeySession, s, SessionTTL); err != nil {
		return false, err
	}
	return true, nil
}

// Summary returns the stored analytics, or ErrNoAnalyticsConsent.
func (t *Tracker) Summary(ctx context.Context, subject string) (*AnalyticsSummary, error) {
	ok, err := t.gate(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoAnalyticsConsent
	}

	out := &AnalyticsSummary{PageViews: map[string]int{}}
	if out.Session, err = t.session(ctx, subject); err != nil {
		return nil, err
	}
	if _, err := t.m.getJSON(ctx, subject, KeyPageViews, &out.PageViews); err != nil {
		return nil, err
	}
	if _, err := t.m.getJSON(ctx, subject, KeyFeatureUsage, &out.FeatureUsage); err != nil {
		return nil, err
	}
	if out.FeatureUsage.Counts == nil {
		out.FeatureUsage.Counts = map[string]int{}
	}
	return out, nil
}

package consent

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Sentinel errors for consent operations.
var (
	// ErrNotFound is returned by Store.Get for an absent or expired key.
	ErrNotFound = errors.New("consent: key not found")

	// ErrInvalidSubject is returned for subject ids that cannot be used as keys.
	ErrInvalidSubject = errors.New("consent: invalid subject")

	// ErrInvalidValue is returned for preference values outside their allowed set.
	ErrInvalidValue = errors.New("consent: invalid value")

	// ErrNoAnalyticsConsent is returned by analytics reads while analytics is off.
	ErrNoAnalyticsConsent = errors.New("consent: analytics consent not given")
)

// Store is a small per-subject key/value store with expiry. A subject is a
// browser client or a signed-in user.
type Store interface {
	// Get returns the value of name, or ErrNotFound.
	Get(ctx context.Context, subject, name string) ([]byte, error)

	// Set stores value under name. A ttl of zero or less never expires.
	Set(ctx context.Context, subject, name string, value []byte, ttl time.Duration) error

	// Delete removes names. Absent names are ignored.
	Delete(ctx context.Context, subject string, names ...string) error

	// Keys lists the subject's live names in sorted order.
	Keys(ctx context.Context, subject string) ([]string, error)
}

var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

// ValidSubject reports whether s is usable as a subject id. Glob and key
// separator characters are excluded so a subject never matches another's keys.
func ValidSubject(s string) bool {
	return subjectPattern.MatchString(s)
}

// MemoryStore keeps values in process memory. Used when Redis is disabled
// and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time // zero: never
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]map[string]memoryItem),
		now:   time.Now,
	}
}

func (m *MemoryStore) live(item memoryItem, now time.Time) bool {
	return item.expires.IsZero() || now.Before(item.expires)
}

// Get returns a copy of the stored value.
func (m *MemoryStore) Get(_ context.Context, subject, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[subject][name]
	if !ok || !m.live(item, m.now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores a copy of value.
func (m *MemoryStore) Set(_ context.Context, subject, name string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	if m.items[subject] == nil {
		m.items[subject] = make(map[string]memoryItem)
	}
	m.items[subject][name] = item
	return nil
}

// Delete removes names for subject.
func (m *MemoryStore) Delete(_ context.Context, subject string, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range names {
		delete(m.items[subject], name)
	}
	if len(m.items[subject]) == 0 {
		delete(m.items, subject)
	}
	return nil
}

// Keys lists subject's unexpired names.
func (m *MemoryStore) Keys(_ context.Context, subject string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := []string{}
	for name, item := range m.items[subject] {
		if m.live(item, now) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

package realtime

import (
	"context"
	"sync"
)

// LocalFeed is an in-process Listener and Notifier.
//
// Notify delivers synchronously on the caller's goroutine, one subscriber
// at a time. Each subscription has its own guard: delivery holds it, and
// the Unsubscribe func takes it before returning, so once Unsubscribe has
// returned the callback never runs again.
//
// An Unsubscribe func must not be called from inside its own callback.
type LocalFeed struct {
	mu     sync.RWMutex
	owners map[string]map[uint64]*subscriber
	nextID uint64
}

type subscriber struct {
	mu       sync.Mutex
	active   bool
	onChange func(Change)
}

// NewLocalFeed creates an empty feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{owners: make(map[string]map[uint64]*subscriber)}
}

// Subscribe registers onChange for ownerID's changes.
func (f *LocalFeed) Subscribe(ownerID string, onChange func(Change)) Unsubscribe {
	sub := &subscriber{active: true, onChange: onChange}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	subs := f.owners[ownerID]
	if subs == nil {
		subs = make(map[uint64]*subscriber)
		f.owners[ownerID] = subs
	}
	subs[id] = sub
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if subs := f.owners[ownerID]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(f.owners, ownerID)
				}
			}
			f.mu.Unlock()

			// Waits for an in-progress delivery to finish.
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		})
	}
}

// Notify delivers change to every current subscriber of change.OwnerID.
// It never fails; the error return satisfies Notifier.
func (f *LocalFeed) Notify(_ context.Context, change Change) error {
	f.mu.RLock()
	subs := make([]*subscriber, 0, len(f.owners[change.OwnerID]))
	for _, s := range f.owners[change.OwnerID] {
		subs = append(subs, s)
	}
	f.mu.RUnlock()

	for _, s := range subs {
		s.deliver(change)
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions for ownerID.
func (f *LocalFeed) SubscriberCount(ownerID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.owners[ownerID])
}

func (s *subscriber) deliver(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.onChange(change)
	}
}

package devicesync

import (
	"context"
	"sync"

	"github.com/nerrad567/iot-console-core/internal/realtime"
)

// Manager shares one Synchronizer per owner between its users, such as
// WebSocket sessions and the toggle endpoint. A synchronizer is started on
// the first Acquire for an owner and stopped on the matching last Release.
type Manager struct {
	store    DeviceStore
	listener realtime.Listener
	opts     Options

	mu      sync.Mutex
	entries map[string]*managed
	closed  bool
}

type managed struct {
	sync  *Synchronizer
	refs  int
	ready chan struct{}
}

// NewManager creates a manager whose synchronizers share store, listener and opts.
func NewManager(store DeviceStore, listener realtime.Listener, opts Options) *Manager {
	return &Manager{
		store:    store,
		listener: listener,
		opts:     opts,
		entries:  make(map[string]*managed),
	}
}

// Acquire returns the running synchronizer for ownerID, starting one if
// needed. Every successful Acquire must be paired with a Release.
//
// The synchronizer outlives ctx: only ctx's values are kept for its loop.
// Acquire waits for the initial reconcile, or returns ctx.Err() if ctx
// ends first (the reference is released in that case).
func (m *Manager) Acquire(ctx context.Context, ownerID string) (*Synchronizer, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := m.entries[ownerID]
	if ok {
		e.refs++
		m.mu.Unlock()
	} else {
		e = &managed{
			sync:  New(ownerID, m.store, m.listener, m.opts),
			refs:  1,
			ready: make(chan struct{}),
		}
		m.entries[ownerID] = e
		m.mu.Unlock()

		go func() {
			defer close(e.ready)
			e.sync.Start(context.WithoutCancel(ctx))
		}()
	}

	select {
	case <-e.ready:
		return e.sync, nil
	case <-ctx.Done():
		m.Release(ownerID)
		return nil, ctx.Err()
	}
}

// Get returns the synchronizer for ownerID if one is running.
// It does not take a reference.
func (m *Manager) Get(ownerID string) (*Synchronizer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ownerID]
	if !ok {
		return nil, false
	}
	return e.sync, true
}

// Release drops one reference to ownerID's synchronizer and stops it when
// none remain. Releasing an owner with no synchronizer is a no-op.
func (m *Manager) Release(ownerID string) {
	m.mu.Lock()
	e, ok := m.entries[ownerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.entries, ownerID)
	m.mu.Unlock()

	<-e.ready
	e.sync.Stop()
}

// Len returns the number of running synchronizers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops every synchronizer. Later Acquire calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	entries := m.entries
	m.entries = make(map[string]*managed)
	m.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		e.sync.Stop()
	}
}

// Package events provides a small typed observer list used to broadcast
// state changes (consent, sessions, sweeps, sync snapshots) in-process.
package events

import (
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Emitter.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Emitter delivers values of type T to registered observers.
//
// Observers run synchronously on the emitting goroutine, in registration
// order. A panicking observer is recovered and logged; the remaining
// observers still run. The zero value is ready to use.
type Emitter[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	observers []observer[T]
	logger    Logger
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// SetLogger sets the logger used to report observer panics.
func (e *Emitter[T]) SetLogger(logger Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// On registers fn and returns a function that removes it.
// The returned function is idempotent.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.observers = append(e.observers, observer[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, o := range e.observers {
		if o.id == id {
			e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every observer registered at the time of the call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	snapshot := make([]observer[T], len(e.observers))
	copy(snapshot, e.observers)
	logger := e.logger
	e.mu.RUnlock()

	if logger == nil {
		logger = noopLogger{}
	}
	for _, o := range snapshot {
		e.call(o.fn, v, logger)
	}
}

func (e *Emitter[T]) call(fn func(T), v T, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event observer panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn(v)
}

// Len returns the number of registered observers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.observers)
}

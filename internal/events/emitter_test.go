package events

import (
	"sync"
	"testing"
)

type capturingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (c *capturingLogger) Error(msg string, _ ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func TestEmitter_DeliversInOrder(t *testing.T) {
	var e Emitter[int]
	var got []string

	e.On(func(v int) { got = append(got, "a") })
	e.On(func(v int) { got = append(got, "b") })
	e.Emit(1)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("delivery order = %v, want [a b]", got)
	}
}

func TestEmitter_OffIsIdempotent(t *testing.T) {
	var e Emitter[string]
	calls := 0
	off := e.On(func(string) { calls++ })
	keep := 0
	e.On(func(string) { keep++ })

	off()
	off()
	e.Emit("x")

	if calls != 0 {
		t.Errorf("removed observer called %d times", calls)
	}
	if keep != 1 {
		t.Errorf("remaining observer called %d times, want 1", keep)
	}
	if e.Len() != 1 {
		t.Errorf("Len() = %d, want 1", e.Len())
	}
}

func TestEmitter_RecoversPanics(t *testing.T) {
	var e Emitter[int]
	logger := &capturingLogger{}
	e.SetLogger(logger)

	after := false
	e.On(func(int) { panic("boom") })
	e.On(func(int) { after = true })

	e.Emit(7)

	if !after {
		t.Error("observer after the panicking one did not run")
	}
	if len(logger.msgs) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.msgs))
	}
}

func TestEmitter_PanicWithoutLogger(t *testing.T) {
	var e Emitter[int]
	e.On(func(int) { panic("boom") })
	e.Emit(1) // must not propagate
}

func TestEmitter_ObserverMayUnsubscribeDuringEmit(t *testing.T) {
	var e Emitter[int]
	var off func()
	calls := 0
	off = e.On(func(int) {
		calls++
		off()
	})

	e.Emit(1)
	e.Emit(2)

	if calls != 1 {
		t.Errorf("self-removing observer called %d times, want 1", calls)
	}
}

func TestEmitter_Concurrent(t *testing.T) {
	var e Emitter[int]
	var mu sync.Mutex
	total := 0
	e.On(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			off := e.On(func(int) {})
			e.Emit(1)
			off()
		}()
	}
	wg.Wait()

	if total != 50 {
		t.Errorf("total = %d, want 50", total)
	}
	if e.Len() != 1 {
		t.Errorf("Len() = %d, want 1", e.Len())
	}
}

package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalFeed_DeliversToOwnerOnly(t *testing.T) {
	feed := NewLocalFeed()
	var gotA, gotB []Change

	offA := feed.Subscribe("user-a", func(c Change) { gotA = append(gotA, c) })
	defer offA()
	offB := feed.Subscribe("user-b", func(c Change) { gotB = append(gotB, c) })
	defer offB()

	change := Change{OwnerID: "user-a", Kind: KindUpdate, DeviceRef: "dev-1"}
	if err := feed.Notify(t.Context(), change); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(gotA) != 1 || gotA[0] != change {
		t.Errorf("user-a got %v, want [%v]", gotA, change)
	}
	if len(gotB) != 0 {
		t.Errorf("user-b got %v, want nothing", gotB)
	}
}

func TestLocalFeed_UnsubscribeIsIdempotent(t *testing.T) {
	feed := NewLocalFeed()
	calls := 0
	off := feed.Subscribe("u", func(Change) { calls++ })
	other := feed.Subscribe("u", func(Change) {})
	defer other()

	off()
	off()

	_ = feed.Notify(t.Context(), Change{OwnerID: "u"})
	if calls != 0 {
		t.Errorf("callback ran %d times after unsubscribe", calls)
	}
	if n := feed.SubscriberCount("u"); n != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", n)
	}
}

func TestLocalFeed_NoCallbackAfterUnsubscribeReturns(t *testing.T) {
	feed := NewLocalFeed()
	var unsubscribed atomic.Bool
	var late atomic.Int32

	off := feed.Subscribe("u", func(Change) {
		if unsubscribed.Load() {
			late.Add(1)
		}
		time.Sleep(time.Millisecond)
	})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = feed.Notify(context.Background(), Change{OwnerID: "u"})
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	off()
	unsubscribed.Store(true)
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	if n := late.Load(); n != 0 {
		t.Errorf("%d callbacks ran after unsubscribe returned", n)
	}
}

func TestFanout(t *testing.T) {
	var got []string
	record := func(name string, err error) Notifier {
		return NotifierFunc(func(context.Context, Change) error {
			got = append(got, name)
			return err
		})
	}
	errB := errors.New("b down")

	f := Fanout{record("a", nil), nil, record("b", errB), record("c", nil)}
	err := f.Notify(t.Context(), Change{OwnerID: "u"})

	if !errors.Is(err, errB) {
		t.Errorf("Notify() error = %v, want %v", err, errB)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("called %v, want [a b c]", got)
	}
	if err := (Fanout{}).Notify(t.Context(), Change{}); err != nil {
		t.Errorf("empty Fanout error = %v", err)
	}
}

package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/mqtt"
)

// fakeBroker records publishes and holds handlers per topic.
type fakeBroker struct {
	mu           sync.Mutex
	published    map[string][][]byte
	handlers     map[string]mqtt.MessageHandler
	subscribes   int
	unsubscribes int
	subscribeErr error
	publishErr   error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		published: make(map[string][][]byte),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (b *fakeBroker) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "iotconsole"} }

func (b *fakeBroker) PublishJSON(topic string, v any) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes++
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) deliver(t *testing.T, topic string, change Change) {
	t.Helper()
	payload, err := json.Marshal(change)
	if err != nil {
		t.Fatal(err)
	}
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", topic)
	}
	if err := h(topic, payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

const changesA = "iotconsole/devices/user-a/changes"

func TestMQTTFeed_SharesOneBrokerSubscriptionPerOwner(t *testing.T) {
	broker := newFakeBroker()
	feed := NewMQTTFeed(broker, 1)

	off1 := feed.Subscribe("user-a", func(Change) {})
	off2 := feed.Subscribe("user-a", func(Change) {})

	if broker.subscribes != 1 || feed.BrokerSubscriptions() != 1 {
		t.Fatalf("subscribes = %d, broker subs = %d, want 1/1", broker.subscribes, feed.BrokerSubscriptions())
	}

	off1()
	off1()
	if broker.unsubscribes != 0 {
		t.Error("broker subscription dropped while a subscriber remains")
	}
	off2()
	if broker.unsubscribes != 1 || feed.BrokerSubscriptions() != 0 {
		t.Errorf("unsubscribes = %d, want 1 after last subscriber left", broker.unsubscribes)
	}
}

func TestMQTTFeed_NotifyDeliversLocallyAndPublishes(t *testing.T) {
	broker := newFakeBroker()
	feed := NewMQTTFeed(broker, 1)
	var got []Change
	off := feed.Subscribe("user-a", func(c Change) { got = append(got, c) })
	defer off()

	change := Change{OwnerID: "user-a", Kind: KindInsert, DeviceRef: "dev-1"}
	if err := feed.Notify(t.Context(), change); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(got) != 1 || got[0].Source != "" {
		t.Errorf("local delivery = %+v", got)
	}
	payloads := broker.published[changesA]
	if len(payloads) != 1 {
		t.Fatalf("published %d messages on %s, want 1", len(payloads), changesA)
	}
	var wire Change
	if err := json.Unmarshal(payloads[0], &wire); err != nil {
		t.Fatal(err)
	}
	if wire.Source != feed.Instance() || wire.DeviceRef != "dev-1" || wire.Kind != KindInsert {
		t.Errorf("wire change = %+v", wire)
	}

	// The broker echoes our own message back; it must not be delivered twice.
	broker.deliver(t, changesA, wire)
	if len(got) != 1 {
		t.Errorf("own echo delivered, got %d changes", len(got))
	}
}

func TestMQTTFeed_RemoteChangeUsesTopicOwner(t *testing.T) {
	broker := newFakeBroker()
	feed := NewMQTTFeed(broker, 1)
	var got []Change
	off := feed.Subscribe("user-a", func(c Change) { got = append(got, c) })
	defer off()

	broker.deliver(t, changesA, Change{OwnerID: "user-b", Kind: KindDelete, DeviceRef: "dev-9", Source: "other-instance"})

	if len(got) != 1 || got[0].OwnerID != "user-a" || got[0].Kind != KindDelete {
		t.Errorf("got %+v", got)
	}
}

func TestMQTTFeed_HandleMessageRejectsGarbage(t *testing.T) {
	feed := NewMQTTFeed(newFakeBroker(), 1)

	if err := feed.handleMessage("iotconsole/system/status", []byte(`{}`)); err == nil {
		t.Error("expected error for non-change topic")
	}
	if err := feed.handleMessage(changesA, []byte(`not json`)); err == nil {
		t.Error("expected error for bad payload")
	}
}

func TestMQTTFeed_ResubscribeAfterFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = errors.New("not connected")
	feed := NewMQTTFeed(broker, 1)

	var got []Change
	off := feed.Subscribe("user-a", func(c Change) { got = append(got, c) })
	defer off()

	if feed.BrokerSubscriptions() != 0 {
		t.Fatal("failed subscription counted as live")
	}
	_ = feed.Notify(t.Context(), Change{OwnerID: "user-a"})
	if len(got) != 1 {
		t.Errorf("local delivery missing while broker is down")
	}

	broker.subscribeErr = nil
	feed.Resubscribe()
	if feed.BrokerSubscriptions() != 1 {
		t.Fatal("Resubscribe() did not restore the broker subscription")
	}
	broker.deliver(t, changesA, Change{Kind: KindUpdate, Source: "peer"})
	if len(got) != 2 {
		t.Errorf("remote change not delivered after Resubscribe")
	}
}

func TestMQTTFeed_NotifyErrors(t *testing.T) {
	broker := newFakeBroker()
	feed := NewMQTTFeed(broker, 1)

	if err := feed.Notify(t.Context(), Change{OwnerID: "bad/owner"}); !errors.Is(err, ErrInvalidOwner) {
		t.Errorf("Notify(bad owner) error = %v, want ErrInvalidOwner", err)
	}

	broker.publishErr = mqtt.ErrNotConnected
	if err := feed.Notify(t.Context(), Change{OwnerID: "user-a"}); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Notify() error = %v, want ErrNotConnected", err)
	}
}

// Compile-time checks.
var (
	_ Broker   = (*mqtt.Client)(nil)
	_ Listener = (*MQTTFeed)(nil)
	_ Notifier = (*MQTTFeed)(nil)
	_ Listener = (*LocalFeed)(nil)
	_ Notifier = (*LocalFeed)(nil)
)

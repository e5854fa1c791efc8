package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/mqtt"
)

// ErrInvalidOwner is returned when an owner id cannot be used as a topic level.
var ErrInvalidOwner = errors.New("realtime: owner id is not a valid topic segment")

// Broker is the part of the MQTT client the feed needs.
// *mqtt.Client satisfies it.
type Broker interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by MQTTFeed.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTFeed is a Listener and Notifier spanning console instances.
//
// Notify delivers to local subscribers immediately and publishes the change
// on the owner's topic for other instances. Each instance holds one broker
// subscription per owner that has local subscribers, shared between them
// and dropped when the last one unsubscribes. Messages an instance
// published itself are recognised by their Source and ignored on the way
// back in.
type MQTTFeed struct {
	broker   Broker
	qos      byte
	local    *LocalFeed
	instance string

	mu     sync.Mutex
	owners map[string]*ownerSubscription

	logger Logger
}

type ownerSubscription struct {
	refs       int
	subscribed bool
}

// NewMQTTFeed creates a feed over broker, subscribing with the given QoS.
func NewMQTTFeed(broker Broker, qos byte) *MQTTFeed {
	return &MQTTFeed{
		broker:   broker,
		qos:      qos,
		local:    NewLocalFeed(),
		instance: uuid.NewString(),
		owners:   make(map[string]*ownerSubscription),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for publish and subscribe failures.
func (f *MQTTFeed) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	f.logger = logger
}

// Instance returns the id stamped into Source on published changes.
func (f *MQTTFeed) Instance() string {
	return f.instance
}

// Notify delivers change locally, then publishes it to the broker.
// A publish failure is returned after local delivery has happened.
func (f *MQTTFeed) Notify(ctx context.Context, change Change) error {
	if err := f.local.Notify(ctx, change); err != nil {
		return err
	}
	if !mqtt.ValidTopicSegment(change.OwnerID) {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, change.OwnerID)
	}

	change.Source = f.instance
	if err := f.broker.PublishJSON(f.broker.Topics().DeviceChanges(change.OwnerID), change); err != nil {
		return fmt.Errorf("publishing device change: %w", err)
	}
	return nil
}

// Subscribe registers onChange for ownerID's changes from any instance.
// If the broker subscription cannot be made, local changes still arrive
// and Resubscribe retries the broker side.
func (f *MQTTFeed) Subscribe(ownerID string, onChange func(Change)) Unsubscribe {
	unsubscribeLocal := f.local.Subscribe(ownerID, onChange)

	f.mu.Lock()
	sub := f.owners[ownerID]
	if sub == nil {
		sub = &ownerSubscription{}
		f.owners[ownerID] = sub
	}
	sub.refs++
	if !sub.subscribed {
		sub.subscribed = f.subscribeOwner(ownerID)
	}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribeLocal()
			f.release(ownerID)
		})
	}
}

// Resubscribe retries broker subscriptions that failed earlier, e.g. while
// the broker was unreachable. Wire it to the MQTT client's OnConnect.
func (f *MQTTFeed) Resubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ownerID, sub := range f.owners {
		if !sub.subscribed {
			sub.subscribed = f.subscribeOwner(ownerID)
		}
	}
}

// BrokerSubscriptions returns the number of owners with a live broker subscription.
func (f *MQTTFeed) BrokerSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.owners {
		if sub.subscribed {
			n++
		}
	}
	return n
}

// subscribeOwner must be called with f.mu held.
func (f *MQTTFeed) subscribeOwner(ownerID string) bool {
	if !mqtt.ValidTopicSegment(ownerID) {
		f.logger.Warn("owner id not usable as topic, remote changes disabled", "owner_id", ownerID)
		return false
	}
	topic := f.broker.Topics().DeviceChanges(ownerID)
	if err := f.broker.Subscribe(topic, f.qos, f.handleMessage); err != nil {
		f.logger.Warn("subscribing to device changes", "topic", topic, "error", err)
		return false
	}
	return true
}

func (f *MQTTFeed) release(ownerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := f.owners[ownerID]
	if sub == nil {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}
	delete(f.owners, ownerID)
	if sub.subscribed {
		topic := f.broker.Topics().DeviceChanges(ownerID)
		if err := f.broker.Unsubscribe(topic); err != nil {
			f.logger.Warn("unsubscribing from device changes", "topic", topic, "error", err)
		}
	}
}

// handleMessage turns a broker message into a local delivery. The owner is
// taken from the topic, not the payload.
func (f *MQTTFeed) handleMessage(topic string, payload []byte) error {
	ownerID, ok := f.broker.Topics().OwnerFromDeviceChanges(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	var change Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return fmt.Errorf("decoding device change: %w", err)
	}
	if change.Source == f.instance {
		return nil
	}
	change.OwnerID = ownerID

	return f.local.Notify(context.Background(), change)
}

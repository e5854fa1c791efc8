// Package realtime carries device row change notifications from the device
// store to the synchronizers that mirror each owner's devices.
//
// Store mutations are published through a Notifier; synchronizers receive
// them through a Listener. LocalFeed covers a single console process.
// MQTTFeed extends it across instances over the broker, so a write made on
// one instance refreshes sessions attached to another.
package realtime

import (
	"context"
	"errors"
	"time"
)

// ChangeKind names the row event that produced a change notification.
type ChangeKind string

// Change kinds.
const (
	KindInsert ChangeKind = "insert"
	KindUpdate ChangeKind = "update"
	KindDelete ChangeKind = "delete"
)

// Change is the payload of one device row event. Subscribers treat it as a
// hint to re-fetch; it never carries the row itself.
type Change struct {
	OwnerID   string     `json:"owner_id"`
	Kind      ChangeKind `json:"kind"`
	DeviceRef string     `json:"device_ref"`
	At        time.Time  `json:"at"`

	// Source identifies the console instance that published the change.
	// Empty for changes that never left the process.
	Source string `json:"source,omitempty"`
}

// Unsubscribe ends a subscription. It is safe to call more than once, and no
// callback for the subscription runs after it returns.
type Unsubscribe func()

// Listener delivers device row changes for one owner.
type Listener interface {
	Subscribe(ownerID string, onChange func(Change)) Unsubscribe
}

// Notifier publishes device row changes.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, change Change) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Fanout is a Notifier that publishes to every wrapped notifier and joins
// their errors. Nil entries are skipped.
type Fanout []Notifier

// Notify publishes change to each notifier in order.
func (f Fanout) Notify(ctx context.Context, change Change) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

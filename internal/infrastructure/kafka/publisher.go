package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-console-core/internal/realtime"
)

// Sentinel errors for the Kafka exporter.
var (
	// ErrDisabled is returned by NewPublisher when kafka.enabled is false.
	ErrDisabled = errors.New("kafka: disabled in configuration")

	// ErrNoBrokers is returned when no broker address is configured.
	ErrNoBrokers = errors.New("kafka: no brokers configured")
)

const (
	// queueSize bounds the events waiting to be written.
	queueSize = 256

	// writeTimeout bounds one WriteMessages call.
	writeTimeout = 10 * time.Second
)

// Event types.
const (
	EventDeviceChange   = "device.change"
	EventHeartbeatSweep = "heartbeat.sweep"
)

// Event is the JSON value of every exported message.
type Event struct {
	Type       string              `json:"type"`
	OwnerID    string              `json:"owner_id,omitempty"`
	DeviceRef  string              `json:"device_ref,omitempty"`
	ChangeKind realtime.ChangeKind `json:"change_kind,omitempty"`
	Source     string              `json:"source,omitempty"`

	MarkedOffline *int   `json:"marked_offline,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
	Error         string `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// key partitions by owner. Sweep events are fleet-wide and go unkeyed.
func (e Event) key() []byte {
	if e.OwnerID == "" {
		return nil
	}
	return []byte(e.OwnerID)
}

// MessageWriter is the part of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Logger defines the logging interface used by the publisher.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher writes device events to Kafka in the background.
type Publisher struct {
	writer MessageWriter
	queue  chan Event
	now    func() time.Time

	loggerMu sync.RWMutex
	logger   Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	statsMu   sync.Mutex
	published uint64
	dropped   uint64
	failed    uint64
}

// NewPublisher creates a publisher for the configured brokers and topic.
//
// Returns:
//   - *Publisher: Ready to Start
//   - error: ErrDisabled when kafka.enabled is false, ErrNoBrokers when the
//     broker list is empty
func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	return NewPublisherWithWriter(&kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}), nil
}

// NewPublisherWithWriter creates a publisher over an existing writer.
// The writer must already carry its topic.
func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{
		writer: w,
		queue:  make(chan Event, queueSize),
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for write failures and dropped events.
func (p *Publisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	defer p.loggerMu.Unlock()
	p.logger = logger
}

func (p *Publisher) log() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Start launches the background writer. Calling Start twice is a no-op.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.drain(ctx)
}

// Close stops the background writer, writes whatever is still queued and
// closes the underlying writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}

// Notify queues a device change. It never blocks and never fails; a full
// queue drops the event.
func (p *Publisher) Notify(_ context.Context, change realtime.Change) error {
	at := change.At
	if at.IsZero() {
		at = p.now()
	}
	p.enqueue(Event{
		Type:       EventDeviceChange,
		OwnerID:    change.OwnerID,
		DeviceRef:  change.DeviceRef,
		ChangeKind: change.Kind,
		Source:     change.Source,
		At:         at.UTC(),
	})
	return nil
}

// SweepCompleted queues an offline sweep result.
func (p *Publisher) SweepCompleted(markedOffline int, err error, elapsed time.Duration) {
	ev := Event{
		Type:          EventHeartbeatSweep,
		MarkedOffline: &markedOffline,
		DurationMS:    elapsed.Milliseconds(),
		At:            p.now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.enqueue(ev)
}

// Stats returns the number of events written, dropped on a full queue, and
// lost to write errors.
func (p *Publisher) Stats() (published, dropped, failed uint64) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.published, p.dropped, p.failed
}

func (p *Publisher) enqueue(ev Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	select {
	case p.queue <- ev:
	default:
		p.statsMu.Lock()
		p.dropped++
		p.statsMu.Unlock()
		p.log().Warn("kafka queue full, dropping event", "type", ev.Type, "owner_id", ev.OwnerID)
	}
}

// drain writes queued events until ctx is cancelled, then flushes the rest.
func (p *Publisher) drain(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case ev := <-p.queue:
			p.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-p.queue:
					p.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) write(ev Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.log().Error("encoding kafka event", "type", ev.Type, "error", err)
		p.countFailure()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   ev.key(),
		Value: value,
		Time:  ev.At,
	})
	if err != nil {
		p.log().Error("kafka write failed", "type", ev.Type, "owner_id", ev.OwnerID, "error", err)
		p.countFailure()
		return
	}

	p.statsMu.Lock()
	p.published++
	p.statsMu.Unlock()
}

func (p *Publisher) countFailure() {
	p.statsMu.Lock()
	p.failed++
	p.statsMu.Unlock()
}

package devicesync

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/iot-console-core/internal/device"
)

// Default intervals.
const (
	DefaultPollInterval   = 30 * time.Second
	DefaultToggleFailsafe = 6 * time.Second
)

// ErrToggleInFlight is returned when a toggle is requested for a device
// whose previous toggle has not finished.
var ErrToggleInFlight = errors.New("devicesync: toggle already in progress for device")

// ErrClosed is returned by Manager.Acquire after Close.
var ErrClosed = errors.New("devicesync: manager closed")

// Trigger names what caused a reconcile.
type Trigger string

// Reconcile triggers.
const (
	TriggerInitial  Trigger = "initial"
	TriggerPoll     Trigger = "poll"
	TriggerRealtime Trigger = "realtime"
	TriggerFailsafe Trigger = "failsafe"
	TriggerManual   Trigger = "manual"
)

// Toggle outcomes reported to the Recorder.
const (
	ToggleOK       = "ok"
	ToggleFailed   = "failed"
	ToggleFailsafe = "failsafe"
	ToggleRejected = "rejected"
)

// DeviceStore is the part of *device.Store the synchronizer uses.
type DeviceStore interface {
	ListDevices(ctx context.Context, ownerID string) ([]device.Device, error)
	ToggleWithHeartbeat(ctx context.Context, id, ownerID string, current device.Status) (*device.Device, error)
	LogAction(ctx context.Context, entry *device.LogEntry) error
}

// Logger defines the logging interface used by the synchronizer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives reconcile and toggle outcomes for metrics and telemetry.
type Recorder interface {
	ReconcileCompleted(trigger string, ok bool, devices int)
	ToggleCompleted(ownerID, deviceRef, outcome string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ReconcileCompleted(string, bool, int)                  {}
func (noopRecorder) ToggleCompleted(string, string, string, time.Duration) {}

// Recorders fans outcomes out to several recorders.
type Recorders []Recorder

// ReconcileCompleted forwards to every recorder.
func (rs Recorders) ReconcileCompleted(trigger string, ok bool, devices int) {
	for _, r := range rs {
		if r == nil {
			continue
		}
		r.ReconcileCompleted(trigger, ok, devices)
	}
}

// ToggleCompleted forwards to every recorder.
func (rs Recorders) ToggleCompleted(ownerID, deviceRef, outcome string, elapsed time.Duration) {
	for _, r := range rs {
		if r == nil {
			continue
		}
		r.ToggleCompleted(ownerID, deviceRef, outcome, elapsed)
	}
}

// Timer is a stoppable one-shot timer, as returned by time.AfterFunc.
type Timer interface {
	Stop() bool
}

// Options configures a Synchronizer. Zero fields take defaults.
type Options struct {
	// PollInterval is the period of the unconditional reconcile. Default 30s.
	PollInterval time.Duration

	// ToggleFailsafe bounds how long a device can stay marked in flight. Default 6s.
	ToggleFailsafe time.Duration

	Thresholds device.Thresholds
	Logger     Logger
	Recorder   Recorder

	// Clock and AfterFunc are replaceable for tests.
	Clock     func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ToggleFailsafe <= 0 {
		o.ToggleFailsafe = DefaultToggleFailsafe
	}
	if o.Thresholds == (device.Thresholds{}) {
		o.Thresholds = device.DefaultThresholds()
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Recorder == nil {
		o.Recorder = noopRecorder{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return o
}

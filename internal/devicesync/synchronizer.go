package devicesync

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/events"
	"github.com/nerrad567/iot-console-core/internal/realtime"
)

// DeviceView is a device with the liveness derived at its last fetch.
type DeviceView struct {
	device.Device
	Liveness device.Liveness `json:"liveness"`
	Toggling bool            `json:"toggling"`
}

// View is a point-in-time copy of a synchronizer's state.
type View struct {
	OwnerID   string       `json:"owner_id"`
	Devices   []DeviceView `json:"devices"`
	InFlight  []string     `json:"in_flight"`
	FetchedAt time.Time    `json:"fetched_at"`
	Trigger   Trigger      `json:"trigger,omitempty"`
	LastError string       `json:"last_error,omitempty"`

	// Version increases with every state change, so observers receiving
	// views from different goroutines can discard older ones.
	Version uint64 `json:"version"`
}

// Synchronizer keeps one owner's in-memory device list consistent with the
// store.
//
// Three sources feed a single Reconcile entry point: the initial load, a
// periodic poll, and realtime change notifications. A successful reconcile
// replaces the whole list and clears every in-flight toggle. Toggle applies
// its flip locally before the remote write and reverts it on failure.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observers registered with OnChange run on the goroutine that caused
//     the change and must not call back into Toggle or Reconcile.
type Synchronizer struct {
	ownerID  string
	store    DeviceStore
	listener realtime.Listener
	opts     Options

	mu        sync.Mutex
	devices   []DeviceView
	inFlight  map[string]*toggleState
	fetchedAt time.Time
	trigger   Trigger
	lastErr   error
	version   uint64
	nextGen   uint64

	started     bool
	stopped     bool
	runCtx      context.Context
	cancel      context.CancelFunc
	unsubscribe realtime.Unsubscribe
	changed     chan struct{}
	done        chan struct{}

	changes events.Emitter[View]
}

type toggleState struct {
	gen     uint64
	timer   Timer
	started time.Time
}

// New creates a synchronizer for ownerID. Call Start to begin syncing.
func New(ownerID string, store DeviceStore, listener realtime.Listener, opts Options) *Synchronizer {
	opts = opts.withDefaults()
	s := &Synchronizer{
		ownerID:  ownerID,
		store:    store,
		listener: listener,
		opts:     opts,
		inFlight: make(map[string]*toggleState),
		runCtx:   context.Background(),
		changed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.changes.SetLogger(opts.Logger)
	return s
}

// OwnerID returns the owner whose devices are synchronized.
func (s *Synchronizer) OwnerID() string {
	return s.ownerID
}

// Start subscribes to realtime changes, performs the initial reconcile and
// starts the poll loop. ctx bounds the lifetime of the loop.
//
// The subscription is made before the first fetch so that no change is
// lost between the two. A failed initial fetch is recorded in the view and
// retried on the next trigger. Calling Start again, or after Stop, is a no-op.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	var unsubscribe realtime.Unsubscribe
	if s.listener != nil {
		unsubscribe = s.listener.Subscribe(s.ownerID, s.onRealtimeChange)
	}

	s.mu.Lock()
	if s.stopped && unsubscribe != nil {
		// Stop ran while subscribing.
		unsubscribe()
	} else {
		s.unsubscribe = unsubscribe
	}
	s.mu.Unlock()

	_ = s.Reconcile(runCtx, TriggerInitial) //nolint:errcheck // recorded in the view

	go s.loop(runCtx)
}

// Stop ends the realtime subscription, the poll loop and every armed
// fail-safe timer, then waits for the loop to exit. Idempotent.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasStarted := s.started
	unsubscribe := s.unsubscribe
	cancel := s.cancel
	for ref, st := range s.inFlight {
		st.timer.Stop()
		delete(s.inFlight, ref)
	}
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if wasStarted {
		<-s.done
	}
}

// onRealtimeChange runs on the notifier's goroutine. It only signals the
// loop; bursts of changes collapse into one reconcile.
func (s *Synchronizer) onRealtimeChange(realtime.Change) {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Reconcile(ctx, TriggerPoll) //nolint:errcheck // recorded in the view
		case <-s.changed:
			_ = s.Reconcile(ctx, TriggerRealtime) //nolint:errcheck // recorded in the view
		}
	}
}

// Reconcile fetches the owner's full device list and makes it the current
// state.
//
// On success the list is replaced, liveness is derived afresh and every
// in-flight marker and fail-safe timer is cleared. On failure the error is
// logged and recorded and the previous list is kept.
//
// Parameters:
//   - ctx: Bounds the fetch
//   - trigger: What caused the reconcile, for logs and metrics
//
// Returns:
//   - error: The fetch error, if any
func (s *Synchronizer) Reconcile(ctx context.Context, trigger Trigger) error {
	devices, err := s.store.ListDevices(ctx, s.ownerID)
	now := s.opts.Clock()

	if err != nil && ctx.Err() != nil {
		// Shutting down; not a store failure.
		return err
	}

	s.mu.Lock()
	if err != nil {
		s.lastErr = err
		s.version++
		view := s.viewLocked()
		s.mu.Unlock()

		s.opts.Logger.Warn("device reconcile failed, keeping previous list",
			"owner_id", s.ownerID, "trigger", trigger, "error", err)
		s.opts.Recorder.ReconcileCompleted(string(trigger), false, len(view.Devices))
		s.changes.Emit(view)
		return err
	}

	views := make([]DeviceView, len(devices))
	for i := range devices {
		views[i] = DeviceView{
			Device:   *devices[i].DeepCopy(),
			Liveness: device.DeriveLiveness(&devices[i], now, s.opts.Thresholds),
		}
	}
	s.devices = views
	s.fetchedAt = now
	s.trigger = trigger
	s.lastErr = nil
	for ref, st := range s.inFlight {
		st.timer.Stop()
		delete(s.inFlight, ref)
	}
	s.version++
	view := s.viewLocked()
	s.mu.Unlock()

	s.opts.Logger.Debug("device list reconciled",
		"owner_id", s.ownerID, "trigger", trigger, "devices", len(views))
	s.opts.Recorder.ReconcileCompleted(string(trigger), true, len(views))
	s.changes.Emit(view)
	return nil
}

// Toggle flips a device's power status optimistically.
//
// The flip is visible in the view before the remote write starts. The
// remote write sets the new status and refreshes the heartbeat in one
// statement, then a turn_on or turn_off entry is logged. On failure
// nothing was written remotely, so the local status is reverted and the
// error returned. If neither happens within the fail-safe
// duration, the in-flight marker is cleared and a reconcile is forced.
//
// Parameters:
//   - ctx: Bounds the remote write
//   - deviceRef: Store id of the device
//
// Returns:
//   - error: ErrToggleInFlight if the device is mid-toggle,
//     *device.NotFoundError if it is not in the list, or the store error
func (s *Synchronizer) Toggle(ctx context.Context, deviceRef string) error {
	s.mu.Lock()
	idx := s.indexLocked(deviceRef)
	if idx < 0 {
		s.mu.Unlock()
		return &device.NotFoundError{DeviceRef: deviceRef}
	}
	if _, busy := s.inFlight[deviceRef]; busy {
		s.mu.Unlock()
		s.opts.Recorder.ToggleCompleted(s.ownerID, deviceRef, ToggleRejected, 0)
		return ErrToggleInFlight
	}

	old := s.devices[idx].Status
	s.nextGen++
	gen := s.nextGen
	st := &toggleState{gen: gen, started: s.opts.Clock()}
	st.timer = s.opts.AfterFunc(s.opts.ToggleFailsafe, func() { s.failsafe(deviceRef, gen) })
	s.inFlight[deviceRef] = st

	s.devices[idx].Status = old.Flip()
	name := s.devices[idx].Name
	s.version++
	view := s.viewLocked()
	s.mu.Unlock()
	s.changes.Emit(view)

	if _, err := s.store.ToggleWithHeartbeat(ctx, deviceRef, s.ownerID, old); err != nil {
		s.opts.Logger.Warn("device toggle failed, reverting",
			"owner_id", s.ownerID, "device", deviceRef, "error", err)
		s.finishToggle(deviceRef, gen, &old, ToggleFailed)
		return err
	}

	newStatus := old.Flip()
	entry := &device.LogEntry{
		DeviceRef:  deviceRef,
		OwnerID:    s.ownerID,
		Action:     device.ToggleAction(newStatus),
		OldStatus:  &old,
		NewStatus:  &newStatus,
		DeviceName: name,
	}
	if err := s.store.LogAction(ctx, entry); err != nil {
		s.opts.Logger.Warn("failed to log device toggle",
			"owner_id", s.ownerID, "device", deviceRef, "error", err)
	}

	s.finishToggle(deviceRef, gen, nil, ToggleOK)
	return nil
}

// finishToggle disarms the fail-safe and clears the marker if toggle gen
// still owns it. A reconcile or fail-safe that got there first has already
// replaced the state, so nothing is reverted in that case.
func (s *Synchronizer) finishToggle(deviceRef string, gen uint64, revert *device.Status, outcome string) {
	s.mu.Lock()
	st, ok := s.inFlight[deviceRef]
	if !ok || st.gen != gen {
		s.mu.Unlock()
		s.opts.Recorder.ToggleCompleted(s.ownerID, deviceRef, outcome, 0)
		return
	}
	st.timer.Stop()
	delete(s.inFlight, deviceRef)
	if revert != nil {
		if idx := s.indexLocked(deviceRef); idx >= 0 {
			s.devices[idx].Status = *revert
		}
	}
	elapsed := s.opts.Clock().Sub(st.started)
	s.version++
	view := s.viewLocked()
	s.mu.Unlock()

	s.opts.Recorder.ToggleCompleted(s.ownerID, deviceRef, outcome, elapsed)
	s.changes.Emit(view)
}

func (s *Synchronizer) failsafe(deviceRef string, gen uint64) {
	s.mu.Lock()
	st, ok := s.inFlight[deviceRef]
	if !ok || st.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.inFlight, deviceRef)
	elapsed := s.opts.Clock().Sub(st.started)
	ctx := s.runCtx
	s.mu.Unlock()

	s.opts.Logger.Warn("device toggle fail-safe fired, forcing reconcile",
		"owner_id", s.ownerID, "device", deviceRef, "after", elapsed)
	s.opts.Recorder.ToggleCompleted(s.ownerID, deviceRef, ToggleFailsafe, elapsed)

	_ = s.Reconcile(ctx, TriggerFailsafe) //nolint:errcheck // recorded in the view
}

// Snapshot returns a deep copy of the current state.
func (s *Synchronizer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// InFlight reports whether deviceRef is mid-toggle.
func (s *Synchronizer) InFlight(deviceRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[deviceRef]
	return ok
}

// OnChange registers fn to receive a View after every state change and
// returns a function that removes it.
func (s *Synchronizer) OnChange(fn func(View)) (off func()) {
	return s.changes.On(fn)
}

func (s *Synchronizer) indexLocked(deviceRef string) int {
	for i := range s.devices {
		if s.devices[i].ID == deviceRef {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) viewLocked() View {
	v := View{
		OwnerID:   s.ownerID,
		Devices:   make([]DeviceView, len(s.devices)),
		InFlight:  make([]string, 0, len(s.inFlight)),
		FetchedAt: s.fetchedAt,
		Trigger:   s.trigger,
		Version:   s.version,
	}
	for i := range s.devices {
		d := s.devices[i]
		d.Device = *s.devices[i].Device.DeepCopy()
		_, d.Toggling = s.inFlight[d.ID]
		v.Devices[i] = d
	}
	// Keep list order so views compare equal across calls.
	for _, d := range v.Devices {
		if d.Toggling {
			v.InFlight = append(v.InFlight, d.ID)
		}
	}
	if s.lastErr != nil {
		v.LastError = device.UserMessage(s.lastErr)
	}
	return v
}

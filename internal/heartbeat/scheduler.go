// Package heartbeat runs the periodic offline sweep: devices whose last
// heartbeat is older than the offline threshold are flipped to
// is_online=false by the device store.
//
// Exactly one Scheduler runs per console process. It is constructed and
// owned by the process entry point and started and stopped explicitly.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/events"
)

// DefaultSweepInterval is the period between offline sweeps.
const DefaultSweepInterval = 60 * time.Second

// Sweeper marks stale devices offline. *device.Store satisfies it.
type Sweeper interface {
	MarkOfflineDevices(ctx context.Context) (int, error)
}

// Recorder receives sweep outcomes for metrics and telemetry.
type Recorder interface {
	SweepCompleted(markedOffline int, err error, elapsed time.Duration)
}

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SweepResult is the outcome of one sweep.
type SweepResult struct {
	MarkedOffline int           `json:"marked_offline"`
	At            time.Time     `json:"at"`
	Duration      time.Duration `json:"duration_ns"`
	Err           error         `json:"-"`
	Error         string        `json:"error,omitempty"`
}

// Status describes the scheduler for health and configuration views.
type Status struct {
	Running           bool       `json:"running"`
	LastSweep         *time.Time `json:"last_sweep,omitempty"`
	LastMarkedOffline int        `json:"last_marked_offline"`
	LastError         string     `json:"last_error,omitempty"`
	Sweeps            uint64     `json:"sweeps"`
	Observers         int        `json:"observers"`
	SweepInterval     int        `json:"sweep_interval_seconds"`
	StaleAfter        int        `json:"stale_after_seconds"`
	OfflineAfter      int        `json:"offline_after_seconds"`
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// Sweeper performs the sweep. Required.
	Sweeper Sweeper

	// Interval between sweeps. Default: 60 seconds.
	Interval time.Duration

	// Thresholds are reported in Status. Default: 60s / 120s.
	Thresholds device.Thresholds

	// Recorders receive every result, e.g. Prometheus and InfluxDB.
	Recorders []Recorder

	// Clock is replaceable for tests. Default: time.Now.
	Clock func() time.Time
}

// Scheduler runs an immediate sweep on Start and then one every interval.
type Scheduler struct {
	sweeper    Sweeper
	interval   time.Duration
	thresholds device.Thresholds
	recorders  []Recorder
	clock      func() time.Time

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Serialises scheduled and manual sweeps.
	sweepMu sync.Mutex

	stateMu sync.RWMutex
	last    *SweepResult
	sweeps  uint64

	results events.Emitter[SweepResult]

	logger   Logger
	loggerMu sync.RWMutex
}

// NewScheduler creates a scheduler. Call Start to begin sweeping.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	thresholds := cfg.Thresholds
	if thresholds == (device.Thresholds{}) {
		thresholds = device.DefaultThresholds()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Scheduler{
		sweeper:    cfg.Sweeper,
		interval:   interval,
		thresholds: thresholds,
		recorders:  cfg.Recorders,
		clock:      clock,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for sweep results and failures.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
	s.results.SetLogger(logger)
}

func (s *Scheduler) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Start runs the first sweep in the background and then sweeps every
// interval until ctx is cancelled or Stop is called.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	s.log().Info("offline sweep scheduler started", "interval", s.interval)
}

// Stop ends the sweep loop and waits for an in-progress sweep to finish.
// Stop on a scheduler that is not running is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log().Info("offline sweep scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepNow(ctx)
		}
	}
}

// SweepNow runs one sweep immediately and returns its result. Observers
// and recorders see it as well, unless ctx was cancelled mid-sweep.
func (s *Scheduler) SweepNow(ctx context.Context) SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := s.clock()
	marked, err := s.sweeper.MarkOfflineDevices(ctx)
	result := SweepResult{
		MarkedOffline: marked,
		At:            start,
		Duration:      s.clock().Sub(start),
		Err:           err,
	}
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown, not a failed sweep.
		s.log().Debug("offline sweep cancelled", "error", err)
		return result
	}
	if err != nil {
		result.Error = device.UserMessage(err)
		s.log().Warn("offline sweep failed", "error", err)
	} else if marked > 0 {
		s.log().Info("devices marked offline", "count", marked)
	}

	s.stateMu.Lock()
	s.last = &result
	s.sweeps++
	s.stateMu.Unlock()

	for _, r := range s.recorders {
		if r != nil {
			r.SweepCompleted(marked, err, result.Duration)
		}
	}
	s.results.Emit(result)
	return result
}

// OnSweep registers fn to receive every sweep result and returns a
// function that removes it.
func (s *Scheduler) OnSweep(fn func(SweepResult)) (off func()) {
	return s.results.On(fn)
}

// IsRunning reports whether the sweep loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the scheduler's current state and configuration.
func (s *Scheduler) Status() Status {
	st := Status{
		Running:       s.IsRunning(),
		Observers:     s.results.Len(),
		SweepInterval: int(s.interval / time.Second),
		StaleAfter:    int(s.thresholds.StaleAfter / time.Second),
		OfflineAfter:  int(s.thresholds.OfflineAfter / time.Second),
	}

	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st.Sweeps = s.sweeps
	if s.last != nil {
		at := s.last.At
		st.LastSweep = &at
		st.LastMarkedOffline = s.last.MarkedOffline
		st.LastError = s.last.Error
	}
	return st
}

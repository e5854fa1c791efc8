package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/iot-console-core/internal/audit"
	"github.com/nerrad567/iot-console-core/internal/auth"
	"github.com/nerrad567/iot-console-core/internal/consent"
	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/devicesync"
	"github.com/nerrad567/iot-console-core/internal/heartbeat"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/logging"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultLogLimit is the number of log entries returned when no limit is given.
const defaultLogLimit = 20

// HealthCheck is a named dependency probe reported by GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// FleetRecorder receives heartbeat report totals and individual heartbeat
// refreshes, e.g. InfluxDB.
type FleetRecorder interface {
	FleetHealth(ownerID string, healthy, stale, offline, healthPercentage int)
	HeartbeatRecorded(ownerID, deviceRef string, previousAge time.Duration, at time.Time)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Sync     config.SyncConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	Devices  *device.Store
	Logs     audit.Repository
	Syncs    *devicesync.Manager
	Sweeps   *heartbeat.Scheduler
	Auth     *auth.Gateway
	Consent  *consent.Manager
	Registry *metrics.Metrics // optional
	Fleet    FleetRecorder    // optional
	Events   EventStats       // optional, e.g. the Kafka publisher
	DBStats  func() sql.DBStats
	Health   []HealthCheck
	Version  string
}

// Server is the HTTP API server of the console.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	metricCfg config.MetricsConfig
	logLimit  int
	logger    *logging.Logger
	devices   *device.Store
	logs      audit.Repository
	syncs     *devicesync.Manager
	sweeps    *heartbeat.Scheduler
	auth      *auth.Gateway
	consent   *consent.Manager
	metrics   *metrics.Metrics
	fleet     FleetRecorder
	events    EventStats
	dbStats   func() sql.DBStats
	checks    []HealthCheck
	version   string
	startTime time.Time
	now       func() time.Time

	tickets *ticketStore
	hub     *Hub
	handler http.Handler

	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()
	offSweeps func()
	bgWG      sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but Handler() can be
// served directly, which is how the tests drive it.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Syncs == nil {
		return nil, fmt.Errorf("sync manager is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth gateway is required")
	}
	if deps.Consent == nil {
		return nil, fmt.Errorf("consent manager is required")
	}

	logLimit := deps.Sync.LogLimit
	if logLimit <= 0 {
		logLimit = defaultLogLimit
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		metricCfg: deps.Metrics,
		logLimit:  logLimit,
		logger:    deps.Logger,
		devices:   deps.Devices,
		logs:      deps.Logs,
		syncs:     deps.Syncs,
		sweeps:    deps.Sweeps,
		auth:      deps.Auth,
		consent:   deps.Consent,
		metrics:   deps.Registry,
		fleet:     deps.Fleet,
		events:    deps.Events,
		dbStats:   deps.DBStats,
		checks:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
		now:       time.Now,
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.metrics)
	s.handler = s.buildRouter()

	return s, nil
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays sweep results to connected clients,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Returns:
//   - error: Never for now; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.runBackground(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// runBackground starts the hub, the ticket cleanup loop and the sweep relay.
func (s *Server) runBackground(ctx context.Context) {
	s.bgWG.Add(2)
	go func() {
		defer s.bgWG.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer s.bgWG.Done()
		s.cleanTicketsLoop(ctx)
	}()

	if s.sweeps != nil {
		s.offSweeps = s.sweeps.OnSweep(func(r heartbeat.SweepResult) {
			s.hub.Broadcast(WSTypeHeartbeatSweep, r)
		})
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.offSweeps != nil {
		s.offSweeps()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.bgWG.Wait()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

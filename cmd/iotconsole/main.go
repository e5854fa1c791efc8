// IoT Console Core - device management backend
//
// This is the main entry point of the console. It serves the REST API and
// WebSocket feed for device owners, keeps per-owner device lists in sync,
// sweeps silent devices offline and exports telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/nerrad567/iot-console-core/migrations"

	"github.com/nerrad567/iot-console-core/internal/api"
	"github.com/nerrad567/iot-console-core/internal/audit"
	"github.com/nerrad567/iot-console-core/internal/auth"
	"github.com/nerrad567/iot-console-core/internal/consent"
	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/devicesync"
	"github.com/nerrad567/iot-console-core/internal/heartbeat"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/database"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/kafka"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/logging"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/metrics"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-console-core/internal/realtime"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting IoT Console Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// A .env file is optional; real environment variables win.
	if err := loadDotEnv(); err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := []api.HealthCheck{{Name: "database", Check: db.HealthCheck}}
	reg := metrics.New(prometheus.NewRegistry())

	// Realtime feed: MQTT spans instances, otherwise changes stay in-process.
	var (
		listener   realtime.Listener
		notifiers  realtime.Fanout
		mqttClient *mqtt.Client
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		feed := realtime.NewMQTTFeed(mqttClient, byte(cfg.MQTT.QoS)) //nolint:gosec // QoS validated to 0-2
		feed.SetLogger(log.Component("realtime"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			feed.Resubscribe()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		listener = feed
		notifiers = append(notifiers, feed)
		checks = append(checks, api.HealthCheck{Name: "mqtt", Check: mqttClient.HealthCheck})
	} else {
		feed := realtime.NewLocalFeed()
		listener = feed
		notifiers = append(notifiers, feed)
		log.Info("MQTT disabled, realtime changes stay in-process")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks = append(checks, api.HealthCheck{Name: "influxdb", Check: influxClient.HealthCheck})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Export device events to Kafka (optional)
	publisher, err := kafka.NewPublisher(cfg.Kafka)
	switch {
	case errors.Is(err, kafka.ErrDisabled):
		log.Info("Kafka export disabled")
	case err != nil:
		return fmt.Errorf("creating Kafka publisher: %w", err)
	default:
		publisher.SetLogger(log.Component("kafka"))
		publisher.Start(ctx)
		defer func() {
			log.Info("flushing Kafka publisher")
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("error closing Kafka publisher", "error", closeErr)
			}
		}()
		notifiers = append(notifiers, publisher)
		log.Info("Kafka export enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// Device store
	thresholds := device.Thresholds{
		StaleAfter:   cfg.Heartbeat.StaleAfterDuration(),
		OfflineAfter: cfg.Heartbeat.OfflineAfterDuration(),
	}
	logs := audit.NewSQLiteRepository(db.DB)
	store := device.NewStore(device.NewSQLiteRepository(db.DB), logs)
	store.SetLogger(log.Component("device"))
	store.SetNotifier(notifiers)
	store.SetThresholds(thresholds)

	// Offline sweeps
	recorders := []heartbeat.Recorder{reg}
	if influxClient != nil {
		recorders = append(recorders, influxClient)
	}
	if publisher != nil {
		recorders = append(recorders, publisher)
	}
	sweeps := heartbeat.NewScheduler(heartbeat.SchedulerConfig{
		Sweeper:    store,
		Interval:   cfg.Heartbeat.SweepIntervalDuration(),
		Thresholds: thresholds,
		Recorders:  recorders,
	})
	sweeps.SetLogger(log.Component("heartbeat"))
	sweeps.Start(ctx)
	defer sweeps.Stop()

	// Per-owner synchronizers
	syncRecorders := devicesync.Recorders{reg}
	if influxClient != nil {
		syncRecorders = append(syncRecorders, influxClient)
	}
	syncs := devicesync.NewManager(store, listener, devicesync.Options{
		PollInterval:   cfg.Sync.PollIntervalDuration(),
		ToggleFailsafe: cfg.Sync.ToggleFailSafeDuration(),
		Thresholds:     thresholds,
		Logger:         log.Component("devicesync"),
		Recorder:       syncRecorders,
	})
	defer syncs.Close()

	// Consent and preference storage
	var consentStore consent.Store = consent.NewMemoryStore()
	if cfg.Redis.Enabled {
		rdb, dialErr := consent.DialRedis(ctx, cfg.Redis)
		if dialErr != nil {
			return fmt.Errorf("connecting to Redis: %w", dialErr)
		}
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		consentStore = consent.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		checks = append(checks, api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		log.Info("Redis preference store connected", "addr", cfg.Redis.Addr)
	} else {
		log.Info("Redis disabled, preferences kept in memory")
	}
	consents := consent.NewManager(consentStore)
	consents.SetLogger(log.Component("consent"))

	// Accounts
	gateway := auth.NewGateway(auth.GatewayConfig{
		Users:      auth.NewUserRepository(db.DB),
		Tokens:     auth.NewTokenRepository(db.DB),
		Resets:     auth.NewResetRepository(db.DB),
		Secret:     cfg.Security.JWT.Secret,
		AccessTTL:  time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute,
		RefreshTTL: time.Duration(cfg.Security.JWT.RefreshTokenTTL) * time.Minute,
		ResetTTL:   time.Duration(cfg.Security.PasswordReset.TokenTTL) * time.Minute,
		Limiter: auth.NewRateLimiter(cfg.Security.LoginLimit.MaxAttempts,
			time.Duration(cfg.Security.LoginLimit.WindowSeconds)*time.Second),
		Notifier: &logResetNotifier{
			log:       log.Component("auth"),
			logTokens: cfg.Security.PasswordReset.LogTokens,
		},
	})
	gateway.SetLogger(log.Component("auth"))
	offSessions := gateway.OnSessionChange(func(ev auth.SessionEvent) {
		log.Info("session change", "event", ev.Kind, "user_id", ev.UserID)
	})
	defer offSessions()

	if purged, purgeErr := gateway.PurgeExpired(ctx); purgeErr != nil {
		log.Warn("purging expired refresh tokens", "error", purgeErr)
	} else if purged > 0 {
		log.Info("purged expired refresh tokens", "count", purged)
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Sync:     cfg.Sync,
		Metrics:  cfg.Metrics,
		Logger:   log.Component("api"),
		Devices:  store,
		Logs:     logs,
		Syncs:    syncs,
		Sweeps:   sweeps,
		Auth:     gateway,
		Consent:  consents,
		Registry: reg,
		DBStats:  db.Stats,
		Health:   checks,
		Version:  version,
	}
	if influxClient != nil {
		deps.Fleet = influxClient
	}
	if publisher != nil {
		deps.Events = publisher
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, sessions,
	// Redis, synchronizers, sweeps, Kafka, InfluxDB, MQTT, database.

	log.Info("IoT Console Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOTCONSOLE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOTCONSOLE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadDotEnv loads IOTCONSOLE_ENV_FILE, or ./.env when present.
// A missing default file is not an error; a missing explicit one is.
func loadDotEnv() error {
	if path := os.Getenv("IOTCONSOLE_ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("loading .env: %w", err)
		}
	}
	return nil
}

// healthCheck runs every dependency probe once at startup.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks []api.HealthCheck) error {
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

// logResetNotifier records password reset requests in the log. It stands
// in for an email sender on single-site installs. The token itself is
// only logged when security.password_reset.log_tokens is set.
type logResetNotifier struct {
	log       *logging.Logger
	logTokens bool
}

// SendPasswordReset implements auth.ResetNotifier.
func (n *logResetNotifier) SendPasswordReset(_ context.Context, user *auth.User, token string, expiresAt time.Time) error {
	args := []any{
		"user_id", user.ID,
		"expires_at", expiresAt.Format(time.RFC3339),
	}
	if n.logTokens {
		args = append(args, "token", token)
	}
	n.log.Info("password reset requested", args...)
	return nil
}

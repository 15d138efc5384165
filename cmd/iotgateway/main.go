// IoT Gateway Core - MQTT device orchestration
//
// This is the main entry point for the gateway. It connects to one MQTT
// broker at a time and:
//   - Tracks device presence with a ping/pong probe loop
//   - Admits devices through a per-server allow-list
//   - Runs scheduled publish tasks and message triggers
//   - Evaluates threshold alerts on sensor readings
//
// The REST API and WebSocket feed are served under /api/v1.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/iotgateway-core/internal/alerting"
	"github.com/nerrad567/iotgateway-core/internal/api"
	"github.com/nerrad567/iotgateway-core/internal/automation"
	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/gateway"
	"github.com/nerrad567/iotgateway-core/internal/history"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/logging"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/redisstate"
	"github.com/nerrad567/iotgateway-core/internal/settings"
	"github.com/nerrad567/iotgateway-core/migrations"
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
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
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
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting IoT gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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
	db, err := database.Open(cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Stores
	servers := broker.NewSQLiteRepository(db.DB)
	seeded, err := servers.SeedDefaults(ctx)
	if err != nil {
		return fmt.Errorf("seeding server profiles: %w", err)
	}
	if seeded > 0 {
		log.Info("default server profiles created", "count", seeded)
	}

	store := settings.NewStore(settings.NewSQLiteRepository(db.DB))
	if loadErr := store.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading settings: %w", loadErr)
	}

	// Event fan-out: WebSocket hub first, then the optional Redis mirror
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	fanout := events.NewFanout(hub)

	var mirror *redisstate.Mirror
	if cfg.Redis.Enabled {
		mirror, err = redisstate.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer func() {
			log.Info("closing Redis mirror")
			if closeErr := mirror.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		mirror.SetLogger(log.Component("redis"))
		fanout.Attach(mirror)
		log.Info("Redis state mirror connected", "addr", cfg.Redis.Addr)
	} else {
		log.Info("Redis state mirror disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Gateway session and engines
	session := gateway.NewSession(
		gateway.Options{MQTT: cfg.MQTT, ClientIDPrefix: cfg.Gateway.ClientIDPrefix},
		servers,
		gateway.NewSQLiteSubscriptionRepository(db.DB),
		store,
		history.New(cfg.Gateway.HistorySize),
		fanout,
	)
	session.SetLogger(log.Component("session"))

	devices := device.NewSQLiteRepository(db.DB)
	presence := device.NewSQLiteEventRepository(db.DB)

	tracker := device.NewTracker(devices, presence, session, fanout, store)
	tracker.SetLogger(log.Component("tracker"))
	if influxClient != nil {
		tracker.SetSensorSink(influxClient)
	}

	gate := device.NewGate(devices, presence, tracker)
	gate.SetLogger(log.Component("whitelist"))

	alerts := alerting.NewEngine(alerting.NewSQLiteRepository(db.DB), fanout)
	alerts.SetLogger(log.Component("alerts"))
	tracker.SetAlertChecker(alerts)

	triggers := automation.NewTriggerEngine(automation.NewSQLiteTriggerRepository(db.DB), session, fanout, session, store)
	triggers.SetLogger(log.Component("triggers"))

	tasks := automation.NewTaskEngine(automation.NewSQLiteTaskRepository(db.DB), session, fanout, session, store)
	tasks.SetLogger(log.Component("scheduler"))

	correlator := automation.NewCorrelator(session, session, fanout, session)
	correlator.SetLogger(log.Component("responses"))
	correlator.SetTaskCounter(tasks)
	tasks.SetResponder(correlator)

	session.Attach(gateway.Components{
		Devices:    devices,
		Tracker:    tracker,
		Gate:       gate,
		Alerts:     alerts,
		Triggers:   triggers,
		Tasks:      tasks,
		Correlator: correlator,
	})
	defer func() {
		log.Info("closing broker session")
		tasks.Stop()
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing broker session", "error", closeErr)
		}
	}()

	retention := gateway.NewRetention(devices, presence, store, cfg.Gateway.RetentionDays)
	retention.SetLogger(log.Component("retention"))

	// Start API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		DB:       db,
		Session:  session,
		Servers:  servers,
		Settings: store,
		Devices:  devices,
		Tracker:  tracker,
		Gate:     gate,
		Tasks:    tasks,
		Triggers: triggers,
		Alerts:   alerts,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return retention.Run(gctx) })
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx) })
	}

	if startErr := apiServer.Start(gctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.Gateway.AutoConnect {
		autoConnect(ctx, session, cfg.Gateway.DefaultServer, store.Get(settings.KeyLastSelectedServer), log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	// Deferred Close() calls run in reverse order:
	// API server, broker session, InfluxDB, Redis, database

	log.Info("IoT gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOTGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOTGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connector is the part of the session autoConnect drives.
type connector interface {
	Connect(ctx context.Context, serverName string) error
}

// autoConnect connects to the configured default server, falling back to
// the last server selected through the API. A failed connect is logged and
// left to the user to retry.
func autoConnect(ctx context.Context, c connector, defaultServer, lastSelected string, log *logging.Logger) {
	name := defaultServer
	if name == "" {
		name = lastSelected
	}
	if name == "" {
		log.Info("auto-connect skipped, no server selected")
		return
	}

	if err := c.Connect(ctx, name); err != nil {
		log.Warn("auto-connect failed", "server", name, "error", err)
		return
	}
	log.Info("auto-connected", "server", name)
}

// healthCheck verifies the infrastructure connections are healthy.
//
// The broker is not checked: the gateway starts disconnected and connects
// on request.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

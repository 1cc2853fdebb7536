// avrlink - Denon/Marantz receiver control service
//
// This is the main entry point for avrlink. It connects to every
// configured receiver and exposes them over:
//   - A REST and WebSocket API
//   - The MQTT bridge topics (optional)
//   - Prometheus metrics
//
// Scenes group receiver commands so one request can, for example, power on
// a receiver, pick an input and set the volume. Scenes with a cron schedule
// also run on their own.
//
// State history can be written to InfluxDB when enabled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nerrad567/avrlink/internal/api"
	"github.com/nerrad567/avrlink/internal/audit"
	"github.com/nerrad567/avrlink/internal/automation"
	"github.com/nerrad567/avrlink/internal/avr"
	"github.com/nerrad567/avrlink/internal/bridges/denon"
	"github.com/nerrad567/avrlink/internal/device"
	"github.com/nerrad567/avrlink/internal/infrastructure/config"
	"github.com/nerrad567/avrlink/internal/infrastructure/database"
	"github.com/nerrad567/avrlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/avrlink/internal/infrastructure/logging"
	"github.com/nerrad567/avrlink/internal/infrastructure/metrics"
	"github.com/nerrad567/avrlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/avrlink/migrations"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting avrlink",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	m := metrics.New()

	registry := avr.NewRegistry(log.Component("avr"))
	catalog := device.NewCatalog(
		device.NewSQLiteRepository(db.DB),
		device.NewSQLiteEventRepository(db.DB),
		registry,
		device.CatalogOptions{
			Defaults: cfg.AVR,
			Observer: m,
			Logger:   log.Component("device"),
		},
	)
	defer func() {
		log.Info("disconnecting receivers")
		registry.Close()
		// Drains the final transitions before the database closes.
		catalog.Close()
	}()

	if _, seedErr := catalog.Seed(ctx, cfg.Devices); seedErr != nil {
		return fmt.Errorf("seeding devices: %w", seedErr)
	}
	if loadErr := catalog.Load(ctx); loadErr != nil {
		// Unreachable receivers stay registered and keep retrying.
		log.Warn("some receivers are not connected", "error", loadErr)
	}
	log.Info("device catalog initialised", "devices", registry.Summary().Total)

	// Scenes
	sceneRepo := automation.NewSQLiteRepository(db.DB)
	scenes := automation.NewRegistry(sceneRepo)
	scenes.SetLogger(log.Component("scenes"))
	if loadErr := scenes.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading scenes: %w", loadErr)
	}
	sceneEngine := automation.NewEngine(scenes, registry, sceneRepo, log.Component("scenes"))
	scheduler := automation.NewScheduler(scenes, sceneEngine, log.Component("scenes"))
	if startErr := scheduler.Start(ctx); startErr != nil {
		return fmt.Errorf("starting scene scheduler: %w", startErr)
	}
	defer func() {
		log.Info("stopping scene scheduler")
		scheduler.Stop()
	}()

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT and start the bridge (optional)
	var mqttClient *mqtt.Client
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, bridgeErr := startBridge(ctx, cfg, registry, mqttClient, influxClient, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting denon bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping denon bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Engine:  registry,
		Devices: catalog,
		Metrics: m,
		DB:      db.DB,
		Version: version,

		Scenes:      scenes,
		SceneEngine: sceneEngine,
		SceneRepo:   sceneRepo,

		SceneScheduler: scheduler,
		Audit:          audit.NewSQLiteRepository(db.DB),
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Bridge and MQTT (if enabled)
	// 3. InfluxDB (if enabled)
	// 4. Receivers, then the device catalog
	// 5. Database

	log.Info("avrlink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AVRLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AVRLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db == nil {
		return errors.New("database: not open")
	}
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Receivers are not checked: an unreachable receiver is a normal,
	// reported condition rather than a startup failure.
	return nil
}

// startBridge creates and starts the MQTT bridge.
func startBridge(ctx context.Context, cfg *config.Config, registry *avr.Registry, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*denon.Bridge, error) {
	opts := denon.BridgeOptions{
		BridgeID:       cfg.Site.ID,
		Version:        version,
		HealthInterval: cfg.AVR.HealthInterval,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Engine:         registry,
		Logger:         log.Component("bridge"),
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := denon.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("denon bridge started", "bridge_id", cfg.Site.ID)
	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements denon.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements denon.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements denon.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

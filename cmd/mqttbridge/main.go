// MQTT Bridge - relays messages between an MQTT broker and the local bus.
//
// Each configured bridge forwards one topic in one direction, encoding
// messages with the configured serializer on the way out and decoding
// them with the deserializer on the way in. A status journal, InfluxDB
// counters and a read-only status API are optional.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/mqtt-bridge/migrations"

	"github.com/nerrad567/mqtt-bridge/internal/api"
	"github.com/nerrad567/mqtt-bridge/internal/bridge"
	"github.com/nerrad567/mqtt-bridge/internal/codec"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/engine"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-bridge/internal/journal"
	"github.com/nerrad567/mqtt-bridge/internal/localbus"
	"github.com/nerrad567/mqtt-bridge/internal/msgs"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//
// Returns:
//   - error: nil on clean shutdown, or the startup failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting MQTT bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"bridges", len(cfg.Bridges),
		"mqtt", cfg.MQTT.String(),
	)

	// Status journal (optional)
	var repo journal.Repository
	if cfg.Database.Enabled {
		db, openErr := openJournal(ctx, cfg.Database)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo = journal.NewSQLiteRepository(db.DB)
		log.Info("status journal ready", "path", db.Path())
	} else {
		log.Info("status journal disabled")
	}

	// InfluxDB counters (optional)
	var stats engine.StatsSink
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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
		stats = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	bus := localbus.New(localbus.Options{
		QueueSize: cfg.LocalBus.QueueSize,
		Logger:    log.Component("localbus"),
	})
	conn := connection.NewManager(
		connection.MQTTDialer(log.Component("mqtt")),
		connection.WithLogger(log.Component("connection")),
	)

	eng, err := engine.Start(ctx, engine.Options{
		Descriptors:    bridge.FromConfig(cfg.Bridges),
		Conn:           conn,
		Params:         cfg.MQTT,
		Bus:            bus,
		Serializer:     cfg.Serializer,
		Deserializer:   cfg.Deserializer,
		Codecs:         codec.NewRegistry(),
		Types:          msgs.DefaultRegistry(),
		Logger:         log.Component("engine"),
		Journal:        repo,
		Stats:          stats,
		HealthTopic:    cfg.Health.Topic,
		HealthInterval: cfg.GetHealthInterval(),
		Version:        version,
	})
	if err != nil {
		bus.Close()
		return fmt.Errorf("starting bridges: %w", err)
	}
	defer func() {
		log.Info("stopping bridges")
		eng.Stop()
	}()

	// Status API (optional). Deferred after the engine so it closes first
	// and stops reading engine state before the engine goes away.
	if cfg.API.Enabled {
		srv, newErr := api.New(api.Deps{
			Config:   cfg.API,
			Broker:   cfg.MQTT.BrokerURL(),
			Logger:   log.Component("api"),
			Engine:   eng,
			Journal:  repo,
			Observer: conn,
			Version:  version,
		})
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"bridges", len(eng.Bridges()),
		"failed", len(eng.Failures()),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Engine (local bus, bridges, health, MQTT)
	// 3. InfluxDB
	// 4. Database

	log.Info("MQTT bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MQTTBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openJournal opens the journal database and applies the embedded schema.
func openJournal(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

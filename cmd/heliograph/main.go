// Heliograph - Enphase Envoy Fleet Gateway
//
// This is the main entry point for the Heliograph service. Heliograph
// manages a fleet of Enphase Envoy solar gateways on the local network:
//   - Guided setup and options flows with live credential validation
//   - Continuous polling of production, consumption and inverter data
//   - mDNS discovery of gateways as they appear on the LAN
//   - Fan-out to MQTT, InfluxDB, VictoriaMetrics and WebSocket clients
//
// For architecture details, see: internal/api/doc.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/rowanvale/heliograph/migrations"

	"github.com/rowanvale/heliograph/internal/api"
	"github.com/rowanvale/heliograph/internal/audit"
	"github.com/rowanvale/heliograph/internal/coordinator"
	"github.com/rowanvale/heliograph/internal/discovery"
	"github.com/rowanvale/heliograph/internal/entry"
	"github.com/rowanvale/heliograph/internal/envoy"
	"github.com/rowanvale/heliograph/internal/flow"
	"github.com/rowanvale/heliograph/internal/infrastructure/config"
	"github.com/rowanvale/heliograph/internal/infrastructure/database"
	"github.com/rowanvale/heliograph/internal/infrastructure/influxdb"
	"github.com/rowanvale/heliograph/internal/infrastructure/logging"
	"github.com/rowanvale/heliograph/internal/infrastructure/mqtt"
	"github.com/rowanvale/heliograph/internal/infrastructure/tsdb"
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
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Heliograph",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise entry store
	entryRepo := entry.NewSQLiteRepository(db.DB)
	store := entry.NewStore(entryRepo)
	store.SetLogger(log)

	if refreshErr := store.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entries: %w", refreshErr)
	}
	stats, statsErr := store.GetStats(ctx)
	if statsErr != nil {
		return fmt.Errorf("reading entry stats: %w", statsErr)
	}
	log.Info("entry store initialised",
		"entries", stats.TotalEntries,
		"realtime", stats.RealtimeEnabled,
	)

	// Audit trail
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Flow manager drives setup, reauth and options flows. The default
	// client factory dials real gateways for credential validation.
	flows := flow.NewManager(store, auditRepo)
	flows.SetLogger(log)
	flows.SetIdleTTL(cfg.FlowIdleTTL())
	flows.Start(ctx)
	log.Info("flow manager started", "idle_ttl", cfg.FlowIdleTTL())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
		"client_id", cfg.MQTT.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

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

	// Connect to VictoriaMetrics (optional). History queries on the API
	// degrade to 503 without it.
	var tsdbClient *tsdb.Client
	if cfg.TSDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return fmt.Errorf("connecting to TSDB: %w", err)
		}
		defer func() {
			log.Info("closing TSDB connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing TSDB", "error", closeErr)
			}
		}()
		log.Info("TSDB connected", "url", cfg.TSDB.URL)

		tsdbClient.SetOnError(func(err error) {
			log.Error("TSDB write error", "error", err)
		})
	} else {
		log.Info("TSDB disabled")
	}

	// The WebSocket hub is shared between the API server and the poll
	// coordinator, so it is created here and handed to both.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Poll coordinator: one worker per configured entry, fanning
	// measurements out to MQTT, the time-series stores and the hub.
	var writers []coordinator.EnergyWriter
	if influxClient != nil {
		writers = append(writers, influxClient)
	}
	if tsdbClient != nil {
		writers = append(writers, tsdbClient)
	}

	coord, err := coordinator.New(coordinator.Options{
		Entries: store,
		NewClient: func(c envoy.Config) envoy.Client {
			return envoy.NewHTTPClient(c)
		},
		Publisher: mqttClient,
		Writers:   writers,
		Events:    hub,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	if startErr := coord.Start(ctx); startErr != nil {
		return fmt.Errorf("starting coordinator: %w", startErr)
	}
	// Stop before the MQTT defer so the final offline publishes go out.
	defer coord.Stop()

	// HTTP API server
	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Entries:     store,
		Flows:       flows,
		Audit:       auditRepo,
		Version:     version,
		TSDB:        tsdbClient,
		MQTT:        mqttClient,
		DB:          db,
		Poller:      coord,
		ExternalHub: hub,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
		"auth", cfg.Security.AuthRequired,
	)

	// mDNS discovery feeds gateway announcements into the flow manager
	if cfg.Discovery.Enabled {
		browser := discovery.New(discovery.Config{
			Service:      cfg.Discovery.Service,
			Domain:       cfg.Discovery.Domain,
			RestartDelay: time.Duration(cfg.Discovery.RestartDelay) * time.Second,
		}, flows)
		browser.SetLogger(log)
		browser.Start(ctx)
		defer browser.Close()
	} else {
		log.Info("discovery disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, tsdbClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Discovery browser
	// 2. API server
	// 3. Coordinator (flips availability topics offline)
	// 4. TSDB / InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("Heliograph stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HELIOGRAPH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HELIOGRAPH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The InfluxDB and TSDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, tsdbClient *tsdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if tsdbClient != nil {
		if err := tsdbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("tsdb: %w", err)
		}
	}

	return nil
}

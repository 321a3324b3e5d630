package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/xnet-bridge/migrations"

	"github.com/nerrad567/xnet-bridge/internal/api"
	"github.com/nerrad567/xnet-bridge/internal/bridge"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/database"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/xnet-bridge/internal/turnout"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, path)
		},
	}
}

// run is the service itself, separated from the command for testability.
//
// Components are started bottom-up and torn down by the defer chain in
// reverse: API, bridge, turnouts, observers, transport, InfluxDB, MQTT,
// database.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfg *config.Config, configPath string) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting xnetbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	repo := turnout.NewSQLiteRepository(db.DB)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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
		influxClient.SetSite(cfg.Site.ID)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	metrics := api.NewMetrics()

	bus, err := transport.Connect(ctx, transport.Options{
		Link:    newLink(cfg.XNet),
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("opening XpressNet link: %w", err)
	}
	defer func() {
		log.Info("closing XpressNet link")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing XpressNet link", "error", closeErr)
		}
	}()

	// Observers are stopped after the turnouts are disposed so they flush
	// everything the turnouts published.
	history := turnout.NewHistoryRecorder(repo, log)
	defer history.Stop()

	var events *turnout.AsyncObserver
	if influxClient != nil {
		events = turnout.NewAsyncObserver("influxdb", func(c turnout.Change) {
			influxClient.WriteTurnoutEventAt(c.Address, string(c.Property), c.Old, c.New, c.At)
		}, 0, log)
		defer events.Stop()
		go reportBusCounters(ctx, influxClient, bus, healthInterval(cfg))
	}

	manager, err := turnout.NewManager(managerOptions(cfg, bus, repo, log, metrics))
	if err != nil {
		return fmt.Errorf("creating turnout manager: %w", err)
	}
	defer func() {
		log.Info("disposing turnouts")
		manager.DisposeAll()
	}()
	manager.Subscribe(metrics)
	manager.Subscribe(history)
	if events != nil {
		manager.Subscribe(events)
	}

	turnoutCfgs, err := turnoutConfigs(cfg.Turnouts)
	if err != nil {
		return err
	}
	if loadErr := manager.Load(ctx, turnoutCfgs); loadErr != nil {
		return fmt.Errorf("loading turnouts: %w", loadErr)
	}
	log.Info("turnouts loaded", "count", len(manager.List()))

	br, err := bridge.New(bridge.Options{
		MQTTClient:     mqttClient,
		Manager:        manager,
		Bus:            bus,
		Station:        bus,
		StatusTimeout:  cfg.XNet.ReplyTimeout(),
		BridgeID:       cfg.Site.ID,
		Version:        version,
		HealthInterval: healthInterval(cfg),
		QoS:            byte(cfg.MQTT.QoS),
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := br.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		br.Stop()
	}()

	// Retained state can be lost while the broker is away.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing state")
		br.PublishAll()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Turnouts: manager,
			History:  repo,
			Metrics:  metrics,
			Database: db,
			MQTT:     mqttClient,
			Bus:      bus,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
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

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens the SQLite store and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// newLink picks the physical interface named by the config.
func newLink(x config.XNetConfig) transport.Link {
	if x.Link == "tcp" {
		return transport.NewTCPLink(x.TCPAddress)
	}
	return transport.NewSerialLink(x.SerialPort, x.BaudRate)
}

func managerOptions(cfg *config.Config, tr transport.Transport, repo turnout.Repository, log *logging.Logger, metrics turnout.Metrics) turnout.ManagerOptions {
	return turnout.ManagerOptions{
		Transport:     tr,
		Repository:    repo,
		ReplyTimeout:  cfg.XNet.ReplyTimeout(),
		OffDelay:      cfg.XNet.OffDelay(),
		MaxOffRetries: cfg.XNet.MaxOffRetries,
		BusyRetries:   cfg.XNet.BusyRetries,
		RequestUpdate: cfg.XNet.RequestUpdateOnStart,
		Logger:        log,
		Metrics:       metrics,
	}
}

// turnoutConfigs converts the file's turnout list. Modes were validated on
// load, so an error here means the config was built by hand.
func turnoutConfigs(in []config.TurnoutConfig) ([]turnout.Config, error) {
	out := make([]turnout.Config, 0, len(in))
	var errs []error
	for _, t := range in {
		mode, err := turnout.ParseFeedbackMode(t.FeedbackMode)
		if err != nil {
			errs = append(errs, fmt.Errorf("turnout %d: %w", t.Address, err))
			continue
		}
		out = append(out, turnout.Config{
			Address:  t.Address,
			Name:     t.Name,
			Mode:     mode,
			Inverted: t.Inverted,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func healthInterval(cfg *config.Config) time.Duration {
	if cfg.XNet.HealthInterval <= 0 {
		return 0
	}
	return time.Duration(cfg.XNet.HealthInterval) * time.Second
}

// busCounters flattens transport statistics into InfluxDB fields.
func busCounters(s transport.Stats) map[string]float64 {
	connected := 0.0
	if s.Connected {
		connected = 1
	}
	return map[string]float64{
		"frames_tx":      float64(s.FramesTx),
		"frames_rx":      float64(s.FramesRx),
		"frames_dropped": float64(s.FramesDropped),
		"timeouts":       float64(s.Timeouts),
		"busy_retries":   float64(s.BusyRetries),
		"errors":         float64(s.ErrorsTotal),
		"reconnects":     float64(s.ReconnectsTotal),
		"queue_length":   float64(s.QueueLength),
		"connected":      connected,
	}
}

func reportBusCounters(ctx context.Context, influx *influxdb.Client, bus *transport.Controller, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			influx.WriteBusCounters(busCounters(bus.Stats()))
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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
	return nil
}

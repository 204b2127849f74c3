package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/db"
	"github.com/thatsimonsguy/tank-controller/internal/api"
	"github.com/thatsimonsguy/tank-controller/internal/config"
	"github.com/thatsimonsguy/tank-controller/internal/configstore"
	"github.com/thatsimonsguy/tank-controller/internal/datadog"
	"github.com/thatsimonsguy/tank-controller/internal/env"
	"github.com/thatsimonsguy/tank-controller/internal/fault"
	"github.com/thatsimonsguy/tank-controller/internal/gpio"
	"github.com/thatsimonsguy/tank-controller/internal/logging"
	"github.com/thatsimonsguy/tank-controller/internal/metrics"
	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/mqttbridge"
	"github.com/thatsimonsguy/tank-controller/internal/notifications"
	"github.com/thatsimonsguy/tank-controller/internal/relay"
	"github.com/thatsimonsguy/tank-controller/internal/sensor"
	"github.com/thatsimonsguy/tank-controller/internal/supervisor"
	"github.com/thatsimonsguy/tank-controller/internal/telemetry"
	"github.com/thatsimonsguy/tank-controller/system/shutdown"
)

const journalBuffer = 64

type faultsFunc func() model.FaultSet

func (f faultsFunc) Faults() model.FaultSet { return f() }

func main() {
	start := time.Now()
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel, cfg.LogFile, cfg.LogConsole)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("db", cfg.DBPath).
		Msg("Starting tank controller")

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED, GPIO writes are disabled system-wide")
	}

	pins := gpio.PinsFromConfig(cfg.GPIO)
	if err := gpio.ValidateStartupPins(pins); err != nil {
		shutdown.ShutdownWithError(err, "Refusing to take over relay board due to unsafe pin states")
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		shutdown.ShutdownWithError(err, "Failed to open database")
	}
	defer database.Close()

	store := loadSystemConfig(database, cfg, pins)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EnableDatadog {
		datadog.InitMetrics()
		defer datadog.Close()
	}
	notifications.Init()

	journal := db.NewJournal(database, journalBuffer)
	go journal.Run(ctx)

	relays := relay.NewController(gpio.Driver{}, cfg.MaxPumpRuntime(), relayChannels(cfg, pins)...)
	relays.SetJournal(journal)
	relays.OnWriteFailure = func(err error) {
		shutdown.ShutdownWithError(err, "Failed to drive relay output")
	}
	// Establish a known output state before anything can command the relays.
	relays.ApplyFaults(0, start)

	tanks := map[model.SensorID]sensor.Tank{}
	for _, id := range model.SensorIDs {
		sc := cfg.Sensor(string(id))
		tanks[id] = sensor.Tank{EmptyDistanceMm: sc.EmptyDistanceMm, FullDistanceMm: sc.FullDistanceMm}
	}
	m := metrics.New(tanks)

	status := sensor.NewStatus(start)
	var tasks sync.WaitGroup
	startSensorTasks(ctx, &tasks, cfg, store, status, m)

	var monitor *fault.Monitor
	tel := telemetry.NewServer(
		telemetry.HubConfig{
			MaxClients:   cfg.MaxClients,
			PingInterval: cfg.PingInterval(),
			PongTimeout:  cfg.PongTimeout(),
			WriteTimeout: cfg.PongTimeout(),
			MaxMessage:   int64(cfg.RecordBufferSize),
		},
		start,
		telemetry.NewEncoder(start, cfg.RecordBufferSize, cfg.SensorTimeout(), tanks),
		telemetry.NewDispatcher(relays, store),
		status,
		relays,
		faultsFunc(func() model.FaultSet { return monitor.Faults() }),
	)
	tel.Dispatcher.OnRejected = m.CommandRejected
	tel.Hub.SetObserver(m)
	tel.OnBroadcast = m.Broadcast

	monitor = fault.NewMonitor(status, relays, tel.Hub, gpio.Driver{},
		fault.Indicators{Fault: pins.Fault, Status: pins.Status, Buzzer: pins.Buzzer},
		fault.Limits{SensorTimeout: cfg.SensorTimeout(), KeepaliveWindow: cfg.PingInterval() + cfg.PongTimeout()},
		fault.BuzzerPattern{Duration: cfg.BuzzerFaultDuration(), Count: cfg.FaultBuzzerPattern},
	)
	monitor.AddObserver(m)
	monitor.AddObserver(notifications.NewFaultAlerts())
	if cfg.EnableDatadog {
		every := int(cfg.SystemCheckInterval() / cfg.FaultCheckInterval())
		monitor.AddObserver(datadog.NewReporter(every, cfg.SensorTimeout()))
	}
	if cfg.SupervisorEnabled {
		// Synchronous journal and notification: the restart exits the process.
		monitor.AddObserver(supervisor.New(cfg.SystemResetTimeout(), db.SyncJournal{DB: database}, notifications.Send, shutdown.ShutdownWithError))
	}
	if cfg.MQTTBroker != "" {
		connectMQTT(ctx, cfg, tel, monitor)
	}

	go monitor.Run(ctx, cfg.FaultCheckInterval())
	go tel.Run(ctx, cfg.DataSendInterval())

	apiServer := api.NewServer(database, tel, relays, store, m.Handler())
	apiServer.OnRejected = m.CommandRejected
	go func() {
		if err := apiServer.Start(ctx, cfg.ListenPort, cfg.ConnectionTimeout()); err != nil {
			shutdown.ShutdownWithError(err, "HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown requested")
	tasks.Wait()
	journal.Wait()
	shutdown.Shutdown()
}

// loadSystemConfig restores factory settings when the config-select input
// is held at boot, otherwise loads the persisted settings.
func loadSystemConfig(database *sql.DB, cfg config.Config, pins gpio.Pins) *configstore.Store {
	store := configstore.New(db.EEPROM{DB: database}, cfg.SystemDefaults())
	if gpio.ConfigModeSelected(pins.ConfigSelect) {
		log.Warn().Msg("Config-select input active, restoring factory settings")
		if err := store.FactoryReset(); err != nil {
			log.Error().Err(err).Msg("Failed to persist factory settings")
		}
		return store
	}
	if _, err := store.Load(); err != nil {
		log.Error().Err(err).Msg("Failed to load persisted settings, using defaults")
	}
	return store
}

func relayChannels(cfg config.Config, pins gpio.Pins) []relay.Channel {
	outputs := []struct{ relay, mirror model.GPIOPin }{
		{pins.Relay1, pins.Output1},
		{pins.Relay2, pins.Output2},
	}
	channels := make([]relay.Channel, len(cfg.Relays))
	for i, rc := range cfg.Relays {
		channels[i] = relay.Channel{
			Name:          rc.Name,
			Relay:         outputs[i].relay,
			Mirror:        outputs[i].mirror,
			InterlockWith: model.SensorID(rc.InterlockSensor),
		}
	}
	return channels
}

func startSensorTasks(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, store *configstore.Store, status *sensor.Status, m *metrics.Metrics) {
	limits := sensor.Limits{Min: cfg.MinSensorValue, Max: cfg.MaxSensorValue}
	for _, id := range model.SensorIDs {
		sc := cfg.Sensor(string(id))
		port := sensor.NewSerialPort(sc.Port, sc.Baud)
		task := &sensor.Task{
			ID:        id,
			Link:      sensor.NewLink(id, port, byte(cfg.SensorCommand), cfg.SensorResponseDelay(), limits),
			Status:    status,
			Period:    func() time.Duration { return store.PollDelay(id) },
			Core:      sc.Core,
			OnReading: m.ObserveReading,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer port.Close()
			task.Run(ctx)
		}()
		log.Info().Str("channel", string(id)).Str("port", sc.Port).Int("core", sc.Core).Msg("Sensor task started")
	}
}

func connectMQTT(ctx context.Context, cfg config.Config, tel *telemetry.Server, monitor *fault.Monitor) {
	bridge, err := mqttbridge.Connect(ctx, mqttbridge.Config{
		Broker:      cfg.MQTTBroker,
		ClientID:    cfg.MQTTClientID,
		User:        cfg.MQTTUser,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTTopicPrefix,
	})
	if err != nil {
		log.Error().Err(err).Msg("MQTT mirror disabled")
		return
	}
	tel.OnRecord = bridge.PublishRecord
	monitor.AddObserver(bridge)
}

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// GPIO roles every unit must wire.
const (
	RoleRelay1       = "relay1"
	RoleRelay2       = "relay2"
	RoleOutput1      = "output1"
	RoleOutput2      = "output2"
	RoleStatus       = "status"
	RoleFault        = "fault"
	RoleBuzzer       = "buzzer"
	RoleConfigSelect = "config_select"
)

var requiredRoles = []string{
	RoleRelay1, RoleRelay2, RoleOutput1, RoleOutput2,
	RoleStatus, RoleFault, RoleBuzzer, RoleConfigSelect,
}

type GPIOPin struct {
	Pin        int  `json:"pin"`
	ActiveHigh bool `json:"active_high"`
}

type GPIO map[string]*GPIOPin

type SensorConfig struct {
	Port            string `json:"port"`
	Baud            int    `json:"baud"`
	Core            int    `json:"core"`
	EmptyDistanceMm int    `json:"empty_distance_mm"`
	FullDistanceMm  int    `json:"full_distance_mm"`
}

type Sensors struct {
	A SensorConfig `json:"a"`
	B SensorConfig `json:"b"`
}

type RelayConfig struct {
	Name            string `json:"name"`
	InterlockSensor string `json:"interlock_sensor"`
}

type Config struct {
	ConfigFile string
	LogLevel   zerolog.Level

	LogFile    string `json:"log_file"`
	LogConsole bool   `json:"log_console"`
	DBPath     string `json:"db_path"`
	SafeMode   bool   `json:"safe_mode"`

	BootScriptFilePath string `json:"boot_script_file_path"`
	OSServicePath      string `json:"os_service_path"`
	MainServicePath    string `json:"main_service_path"`
	ServiceUser        string `json:"service_user"`
	ServiceWorkdir     string `json:"service_workdir"`
	ServiceExec        string `json:"service_exec"`

	SensorCommand         int `json:"sensor_command"`
	SensorResponseDelayMs int `json:"sensor_response_delay_ms"`
	SensorReadDelayAMs    int `json:"sensor_read_delay_a_ms"`
	SensorReadDelayBMs    int `json:"sensor_read_delay_b_ms"`
	MinSensorValue        int `json:"min_sensor_value"`
	MaxSensorValue        int `json:"max_sensor_value"`
	SensorTimeoutMs       int `json:"sensor_timeout_ms"`

	SystemCheckIntervalMs int  `json:"system_check_interval_ms"`
	DataSendIntervalMs    int  `json:"data_send_interval_ms"`
	FaultCheckIntervalMs  int  `json:"fault_check_interval_ms"`
	BuzzerFaultDurationMs int  `json:"buzzer_fault_duration_ms"`
	FaultBuzzerPattern    int  `json:"fault_buzzer_pattern"`
	MaxPumpRuntimeMs      int  `json:"max_pump_runtime_ms"`
	SystemResetTimeoutMs  int  `json:"system_reset_timeout_ms"`
	SupervisorEnabled     bool `json:"supervisor_enabled"`

	ListenPort              int `json:"listen_port"`
	MaxClients              int `json:"max_clients"`
	WebsocketPingIntervalMs int `json:"websocket_ping_interval_ms"`
	WebsocketPongTimeoutMs  int `json:"websocket_pong_timeout_ms"`
	RecordBufferSize        int `json:"record_buffer_size"`
	ConnectionTimeoutMs     int `json:"connection_timeout_ms"`

	DefaultWifiSSID     string `json:"default_wifi_ssid"`
	DefaultWifiPassword string `json:"default_wifi_password"`

	Sensors Sensors       `json:"sensors"`
	Relays  []RelayConfig `json:"relays"`
	GPIO    GPIO          `json:"gpio"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyServer string `json:"ntfy_server"`
	NtfyTopic  string `json:"ntfy_topic"`

	MQTTBroker      string `json:"mqtt_broker"`
	MQTTClientID    string `json:"mqtt_client_id"`
	MQTTUser        string `json:"mqtt_user"`
	MQTTPassword    string `json:"mqtt_password"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`
}

// Default returns the compiled-in firmware constants.
func Default() Config {
	return Config{
		LogLevel:           zerolog.InfoLevel,
		LogFile:            "/var/log/tank-controller.log",
		DBPath:             "data/tank.db",
		BootScriptFilePath: "/usr/local/bin/tank-gpio-init.sh",
		OSServicePath:      "/etc/systemd/system/tank-gpio-init.service",
		MainServicePath:    "/etc/systemd/system/tank-controller.service",
		ServiceUser:        "tank",
		ServiceWorkdir:     "/opt/tank-controller",
		ServiceExec:        "/opt/tank-controller/bin/tank-controller -config-file /opt/tank-controller/config.json",

		SensorCommand:         0x55,
		SensorResponseDelayMs: 50,
		SensorReadDelayAMs:    1000,
		SensorReadDelayBMs:    1000,
		MinSensorValue:        0,
		MaxSensorValue:        5000,
		SensorTimeoutMs:       5000,

		SystemCheckIntervalMs: 1000,
		DataSendIntervalMs:    1000,
		FaultCheckIntervalMs:  100,
		BuzzerFaultDurationMs: 100,
		FaultBuzzerPattern:    3,
		MaxPumpRuntimeMs:      300000,
		SystemResetTimeoutMs:  60000,
		SupervisorEnabled:     true,

		ListenPort:              81,
		MaxClients:              4,
		WebsocketPingIntervalMs: 30000,
		WebsocketPongTimeoutMs:  3000,
		RecordBufferSize:        1024,
		ConnectionTimeoutMs:     30000,

		Sensors: Sensors{
			A: SensorConfig{Port: "/dev/ttyAMA0", Baud: 115200, Core: 0, EmptyDistanceMm: 1500, FullDistanceMm: 200},
			B: SensorConfig{Port: "/dev/ttyAMA1", Baud: 115200, Core: 1, EmptyDistanceMm: 1500, FullDistanceMm: 200},
		},
		Relays: []RelayConfig{
			{Name: "pump", InterlockSensor: "a"},
			{Name: "valve", InterlockSensor: "b"},
		},

		DDAgentAddr: "127.0.0.1:8125",
		DDNamespace: "tank.",
		NtfyServer:  "https://ntfy.sh",

		MQTTClientID:    "tank-controller",
		MQTTTopicPrefix: "tank",
	}
}

func Load() Config {
	cfg := Default()
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	dbPath := flag.String("db", "", "Override path to the sqlite database")
	safeMode := flag.Bool("safe-mode", false, "Disable all GPIO writes")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *safeMode {
		cfg.SafeMode = true
	}

	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	var (
		missingFields []string
		usedPins      = map[int]string{}
		conflicts     []string
	)

	for _, role := range requiredRoles {
		if cfg.GPIO[role] == nil {
			missingFields = append(missingFields, "gpio."+role)
		}
	}

	roles := make([]string, 0, len(cfg.GPIO))
	for role := range cfg.GPIO {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		pin := cfg.GPIO[role]
		if pin == nil {
			continue
		}
		if other, exists := usedPins[pin.Pin]; exists {
			conflicts = append(conflicts, fmt.Sprintf("gpio.%s and gpio.%s both use pin %d", other, role, pin.Pin))
		} else {
			usedPins[pin.Pin] = role
		}
	}

	if len(missingFields) > 0 {
		panic("Missing required GPIO config fields: " + strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting GPIO pins: " + strings.Join(conflicts, ", "))
	}

	if len(cfg.Relays) != 2 {
		panic(fmt.Sprintf("Expected exactly 2 relays, got %d", len(cfg.Relays)))
	}
	for i, r := range cfg.Relays {
		switch r.InterlockSensor {
		case "", "a", "b":
		default:
			panic(fmt.Sprintf("relays[%d].interlock_sensor must be \"a\", \"b\" or empty", i))
		}
	}

	if cfg.MinSensorValue < 0 || cfg.MaxSensorValue <= cfg.MinSensorValue || cfg.MaxSensorValue > 0xFFFF {
		panic(fmt.Sprintf("Invalid sensor range [%d, %d]", cfg.MinSensorValue, cfg.MaxSensorValue))
	}
	if cfg.SensorCommand < 0 || cfg.SensorCommand > 0xFF {
		panic(fmt.Sprintf("sensor_command %d does not fit in a byte", cfg.SensorCommand))
	}

	for name, v := range map[string]int{
		"sensor_read_delay_a_ms": cfg.SensorReadDelayAMs,
		"sensor_read_delay_b_ms": cfg.SensorReadDelayBMs,
	} {
		if v < 100 || v > 60000 {
			panic(fmt.Sprintf("%s must be between 100 and 60000, got %d", name, v))
		}
	}

	intervals := map[string]int{
		"sensor_response_delay_ms":   cfg.SensorResponseDelayMs,
		"sensor_read_delay_a_ms":     cfg.SensorReadDelayAMs,
		"sensor_read_delay_b_ms":     cfg.SensorReadDelayBMs,
		"sensor_timeout_ms":          cfg.SensorTimeoutMs,
		"system_check_interval_ms":   cfg.SystemCheckIntervalMs,
		"data_send_interval_ms":      cfg.DataSendIntervalMs,
		"fault_check_interval_ms":    cfg.FaultCheckIntervalMs,
		"buzzer_fault_duration_ms":   cfg.BuzzerFaultDurationMs,
		"max_pump_runtime_ms":        cfg.MaxPumpRuntimeMs,
		"system_reset_timeout_ms":    cfg.SystemResetTimeoutMs,
		"websocket_ping_interval_ms": cfg.WebsocketPingIntervalMs,
		"websocket_pong_timeout_ms":  cfg.WebsocketPongTimeoutMs,
		"max_clients":                cfg.MaxClients,
		"record_buffer_size":         cfg.RecordBufferSize,
	}
	var nonPositive []string
	for name, v := range intervals {
		if v <= 0 {
			nonPositive = append(nonPositive, name)
		}
	}
	if len(nonPositive) > 0 {
		sort.Strings(nonPositive)
		panic("Config values must be positive: " + strings.Join(nonPositive, ", "))
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (cfg *Config) SensorResponseDelay() time.Duration { return ms(cfg.SensorResponseDelayMs) }
func (cfg *Config) SensorTimeout() time.Duration       { return ms(cfg.SensorTimeoutMs) }
func (cfg *Config) SystemCheckInterval() time.Duration { return ms(cfg.SystemCheckIntervalMs) }
func (cfg *Config) DataSendInterval() time.Duration    { return ms(cfg.DataSendIntervalMs) }
func (cfg *Config) FaultCheckInterval() time.Duration  { return ms(cfg.FaultCheckIntervalMs) }
func (cfg *Config) BuzzerFaultDuration() time.Duration { return ms(cfg.BuzzerFaultDurationMs) }
func (cfg *Config) MaxPumpRuntime() time.Duration      { return ms(cfg.MaxPumpRuntimeMs) }
func (cfg *Config) SystemResetTimeout() time.Duration  { return ms(cfg.SystemResetTimeoutMs) }
func (cfg *Config) PingInterval() time.Duration        { return ms(cfg.WebsocketPingIntervalMs) }
func (cfg *Config) PongTimeout() time.Duration         { return ms(cfg.WebsocketPongTimeoutMs) }
func (cfg *Config) ConnectionTimeout() time.Duration   { return ms(cfg.ConnectionTimeoutMs) }

// Sensor returns the serial settings for channel "a" or "b".
func (cfg *Config) Sensor(id string) SensorConfig {
	if id == "b" {
		return cfg.Sensors.B
	}
	return cfg.Sensors.A
}

// SystemDefaults is the factory SystemConfig used when nothing valid is persisted.
func (cfg *Config) SystemDefaults() model.SystemConfig {
	return model.SystemConfig{
		SensorPollDelayA: ms(cfg.SensorReadDelayAMs),
		SensorPollDelayB: ms(cfg.SensorReadDelayBMs),
		WifiSSID:         cfg.DefaultWifiSSID,
		WifiPassword:     cfg.DefaultWifiPassword,
	}
}

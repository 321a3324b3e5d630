package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxTurnoutAddress is the highest accessory address an XpressNet command
// station accepts.
const MaxTurnoutAddress = 1024

// Config is the root configuration structure for the XpressNet bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig      `yaml:"site"`
	Database DatabaseConfig  `yaml:"database"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	API      APIConfig       `yaml:"api"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	Logging  LoggingConfig   `yaml:"logging"`
	XNet     XNetConfig      `yaml:"xnet"`
	Turnouts []TurnoutConfig `yaml:"turnouts"`
}

// SiteConfig identifies the layout this bridge serves.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains the HTTP API and metrics listener settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// XNetConfig describes the link to the command station and the turnout
// protocol timings.
type XNetConfig struct {
	// Link selects the physical interface: "serial" (LI101/LI-USB) or "tcp"
	// (XpressNet-over-TCP adapters such as the LI-ETH).
	Link string `yaml:"link"`

	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	TCPAddress string `yaml:"tcp_address"`

	// ReplyTimeoutMs bounds how long the transport waits for a reply before
	// notifying the sender.
	ReplyTimeoutMs int `yaml:"reply_timeout_ms"`

	// OffDelayMs is the pause before the first OFF after a drive command.
	OffDelayMs int `yaml:"off_delay_ms"`

	// MaxOffRetries caps OFF retransmissions per command. 0 keeps the legacy
	// behaviour of retrying until the command station acknowledges.
	MaxOffRetries int `yaml:"max_off_retries"`

	// BusyRetries is how often a message is requeued after a
	// "command station busy" reply.
	BusyRetries int `yaml:"busy_retries"`

	DefaultFeedbackMode  string `yaml:"default_feedback_mode"`
	RequestUpdateOnStart bool   `yaml:"request_update_on_start"`

	// HealthInterval is the period of the MQTT health report in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// TurnoutConfig declares one turnout on the bus.
type TurnoutConfig struct {
	Address      int    `yaml:"address"`
	Name         string `yaml:"name"`
	FeedbackMode string `yaml:"feedback_mode"`
	Inverted     bool   `yaml:"inverted"`
}

var validFeedbackModes = map[string]bool{
	"direct":     true,
	"signal":     true,
	"monitoring": true,
	"exact":      true,
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: XNETBRIDGE_SECTION_KEY
// For example: XNETBRIDGE_DATABASE_PATH, XNETBRIDGE_XNET_SERIAL_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyTurnoutDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
// Environment overrides are applied so one-shot CLI commands work without
// a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "layout-001",
			Name: "Layout",
		},
		Database: DatabaseConfig{
			Path:        "./data/xnetbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "xnetbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		XNet: XNetConfig{
			Link:                "serial",
			SerialPort:          "/dev/ttyUSB0",
			BaudRate:            19200,
			ReplyTimeoutMs:      1000,
			OffDelayMs:          30,
			MaxOffRetries:       0,
			BusyRetries:         5,
			DefaultFeedbackMode: "monitoring",
			HealthInterval:      30,
		},
	}
}

// applyTurnoutDefaults fills per-turnout fields left empty in the file.
func (c *Config) applyTurnoutDefaults() {
	for i := range c.Turnouts {
		if c.Turnouts[i].FeedbackMode == "" {
			c.Turnouts[i].FeedbackMode = c.XNet.DefaultFeedbackMode
		}
		c.Turnouts[i].FeedbackMode = strings.ToLower(c.Turnouts[i].FeedbackMode)
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: XNETBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("XNETBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("XNETBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("XNETBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("XNETBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("XNETBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// XpressNet link
	if v := os.Getenv("XNETBRIDGE_XNET_LINK"); v != "" {
		cfg.XNet.Link = v
	}
	if v := os.Getenv("XNETBRIDGE_XNET_SERIAL_PORT"); v != "" {
		cfg.XNet.SerialPort = v
	}
	if v := os.Getenv("XNETBRIDGE_XNET_TCP_ADDRESS"); v != "" {
		cfg.XNet.TCPAddress = v
	}
	if v := os.Getenv("XNETBRIDGE_XNET_MAX_OFF_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.XNet.MaxOffRetries = n
		}
	}
}

// Validate checks the configuration for errors.
//
// All problems are reported together so a broken file can be fixed in one pass.
//
// Returns:
//   - error: Joined validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []error

	if c.Site.ID == "" {
		errs = append(errs, errors.New("site.id is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}

	errs = append(errs, c.XNet.validate()...)

	seen := make(map[int]bool, len(c.Turnouts))
	for i, t := range c.Turnouts {
		if t.Address < 1 || t.Address > MaxTurnoutAddress {
			errs = append(errs, fmt.Errorf("turnouts[%d].address %d out of range 1..%d", i, t.Address, MaxTurnoutAddress))
		}
		if seen[t.Address] {
			errs = append(errs, fmt.Errorf("turnouts[%d].address %d is declared twice", i, t.Address))
		}
		seen[t.Address] = true
		if !validFeedbackModes[strings.ToLower(t.FeedbackMode)] {
			errs = append(errs, fmt.Errorf("turnouts[%d].feedback_mode %q is not one of direct, signal, monitoring, exact", i, t.FeedbackMode))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

func (x XNetConfig) validate() []error {
	var errs []error
	switch x.Link {
	case "serial":
		if x.SerialPort == "" {
			errs = append(errs, errors.New("xnet.serial_port is required for the serial link"))
		}
		if x.BaudRate <= 0 {
			errs = append(errs, errors.New("xnet.baud_rate must be positive"))
		}
	case "tcp":
		if x.TCPAddress == "" {
			errs = append(errs, errors.New("xnet.tcp_address is required for the tcp link"))
		}
	default:
		errs = append(errs, fmt.Errorf("xnet.link %q must be serial or tcp", x.Link))
	}
	if x.ReplyTimeoutMs <= 0 {
		errs = append(errs, errors.New("xnet.reply_timeout_ms must be positive"))
	}
	if x.OffDelayMs < 0 {
		errs = append(errs, errors.New("xnet.off_delay_ms must not be negative"))
	}
	if x.MaxOffRetries < 0 {
		errs = append(errs, errors.New("xnet.max_off_retries must not be negative"))
	}
	if x.BusyRetries < 0 {
		errs = append(errs, errors.New("xnet.busy_retries must not be negative"))
	}
	if !validFeedbackModes[strings.ToLower(x.DefaultFeedbackMode)] {
		errs = append(errs, fmt.Errorf("xnet.default_feedback_mode %q is not one of direct, signal, monitoring, exact", x.DefaultFeedbackMode))
	}
	return errs
}

// ReplyTimeout returns the transport reply timeout as a Duration.
func (x XNetConfig) ReplyTimeout() time.Duration {
	return time.Duration(x.ReplyTimeoutMs) * time.Millisecond
}

// OffDelay returns the delay before the first OFF message.
func (x XNetConfig) OffDelay() time.Duration {
	return time.Duration(x.OffDelayMs) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

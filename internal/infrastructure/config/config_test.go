package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "club-layout"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
  qos: 1
xnet:
  link: "tcp"
  tcp_address: "192.168.0.200:5550"
  max_off_retries: 8
  default_feedback_mode: "exact"
turnouts:
  - address: 5
    name: "Yard throat"
  - address: 6
    name: "Yard lead"
    feedback_mode: "DIRECT"
    inverted: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "club-layout", cfg.Site.ID)
	assert.Equal(t, "tcp", cfg.XNet.Link)
	assert.Equal(t, "192.168.0.200:5550", cfg.XNet.TCPAddress)
	assert.Equal(t, 8, cfg.XNet.MaxOffRetries)
	assert.Equal(t, 30, cfg.XNet.OffDelayMs, "default off delay")

	require.Len(t, cfg.Turnouts, 2)
	assert.Equal(t, "exact", cfg.Turnouts[0].FeedbackMode, "inherits the default mode")
	assert.Equal(t, "direct", cfg.Turnouts[1].FeedbackMode)
	assert.True(t, cfg.Turnouts[1].Inverted)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
turnouts:
  - address: 0
`)

	_, err := Load(path)
	require.Error(t, err)
	// Both problems are reported at once.
	assert.Contains(t, err.Error(), "site.id")
	assert.Contains(t, err.Error(), "turnouts[0].address")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Turnouts = []TurnoutConfig{{Address: 1, FeedbackMode: "monitoring"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid API port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "API port ignored when disabled", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, wantErr: false},
		{name: "unknown link", mutate: func(c *Config) { c.XNet.Link = "usb" }, wantErr: true},
		{name: "serial without port", mutate: func(c *Config) { c.XNet.SerialPort = "" }, wantErr: true},
		{name: "tcp without address", mutate: func(c *Config) { c.XNet.Link = "tcp" }, wantErr: true},
		{name: "zero reply timeout", mutate: func(c *Config) { c.XNet.ReplyTimeoutMs = 0 }, wantErr: true},
		{name: "negative retry cap", mutate: func(c *Config) { c.XNet.MaxOffRetries = -1 }, wantErr: true},
		{name: "bad default mode", mutate: func(c *Config) { c.XNet.DefaultFeedbackMode = "sensor" }, wantErr: true},
		{name: "address too high", mutate: func(c *Config) { c.Turnouts[0].Address = MaxTurnoutAddress + 1 }, wantErr: true},
		{name: "duplicate address", mutate: func(c *Config) {
			c.Turnouts = append(c.Turnouts, TurnoutConfig{Address: 1, FeedbackMode: "direct"})
		}, wantErr: true},
		{name: "bad turnout mode", mutate: func(c *Config) { c.Turnouts[0].FeedbackMode = "maybe" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		XNet: XNetConfig{ReplyTimeoutMs: 750, OffDelayMs: 30},
	}

	assert.Equal(t, 30.0, cfg.GetReadTimeout().Seconds())
	assert.Equal(t, 45.0, cfg.GetWriteTimeout().Seconds())
	assert.Equal(t, 60.0, cfg.GetIdleTimeout().Seconds())
	assert.Equal(t, int64(750), cfg.XNet.ReplyTimeout().Milliseconds())
	assert.Equal(t, int64(30), cfg.XNet.OffDelay().Milliseconds())
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("XNETBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("XNETBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("XNETBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("XNETBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("XNETBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("XNETBRIDGE_XNET_SERIAL_PORT", "/dev/ttyACM1")
	t.Setenv("XNETBRIDGE_XNET_MAX_OFF_RETRIES", "12")

	applyEnvOverrides(cfg)

	assert.Equal(t, "/custom/path.db", cfg.Database.Path)
	assert.Equal(t, "mqtt.example.com", cfg.MQTT.Broker.Host)
	assert.Equal(t, "testuser", cfg.MQTT.Auth.Username)
	assert.Equal(t, "testpass", cfg.MQTT.Auth.Password)
	assert.Equal(t, "secret-token", cfg.InfluxDB.Token)
	assert.Equal(t, "/dev/ttyACM1", cfg.XNet.SerialPort)
	assert.Equal(t, 12, cfg.XNet.MaxOffRetries)
}

func TestApplyEnvOverrides_IgnoresBadNumber(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("XNETBRIDGE_XNET_MAX_OFF_RETRIES", "lots")

	applyEnvOverrides(cfg)

	assert.Zero(t, cfg.XNet.MaxOffRetries)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 1883, cfg.MQTT.Broker.Port)
	assert.Equal(t, 19200, cfg.XNet.BaudRate)
	assert.Zero(t, cfg.XNet.MaxOffRetries, "unbounded by default")
}

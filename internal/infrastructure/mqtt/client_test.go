package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "xnetbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Command", Topics{}.Command(18), "xnetbridge/command/turnout/18"},
		{"Ack", Topics{}.Ack(18), "xnetbridge/ack/turnout/18"},
		{"State", Topics{}.State(1024), "xnetbridge/state/turnout/1024"},
		{"Request", Topics{}.Request("req-1"), "xnetbridge/request/turnout/req-1"},
		{"Response", Topics{}.Response("req-1"), "xnetbridge/response/turnout/req-1"},
		{"Health", Topics{}.Health(), "xnetbridge/health/xnet"},
		{"AllCommands", Topics{}.AllCommands(), "xnetbridge/command/turnout/+"},
		{"AllRequests", Topics{}.AllRequests(), "xnetbridge/request/turnout/+"},
		{"AllStates", Topics{}.AllStates(), "xnetbridge/state/turnout/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		topic   string
		want    int
		wantErr bool
	}{
		{"xnetbridge/command/turnout/18", 18, false},
		{"xnetbridge/state/turnout/1", 1, false},
		{"xnetbridge/command/turnout/abc", 0, true},
		{"xnetbridge/command/light/18", 0, true},
		{"otherbridge/command/turnout/18", 0, true},
		{"xnetbridge/command/turnout/18/extra", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := ParseAddress(tt.topic)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWillPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var msg map[string]string
	require.NoError(t, json.Unmarshal(willPayload("bridge-1", now), &msg))

	assert.Equal(t, map[string]string{
		"bridge":    "xnet",
		"client_id": "bridge-1",
		"status":    "offline",
		"reason":    "unexpected_disconnect",
		"timestamp": "2026-03-01T12:00:00Z",
	}, msg)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://127.0.0.1:1883", opts.Servers[0].String())
	assert.Equal(t, "xnetbridge-test", opts.ClientID)
	assert.Equal(t, "bridge", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.NotNil(t, opts.TLSConfig)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.CleanSession)
	assert.Equal(t, 5*time.Second, opts.MaxReconnectInterval)
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "xnetbridge-test")

	require.True(t, opts.WillEnabled)
	assert.Equal(t, "xnetbridge/health/xnet", opts.WillTopic)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, byte(1), opts.WillQos)
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())

	require.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish("xnetbridge/state/turnout/1", []byte("{}"), 1, true), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(Topics{}.AllCommands(), 1, func(string, []byte) error { return nil }), ErrNotConnected)
	assert.ErrorIs(t, c.Unsubscribe(Topics{}.AllCommands()), ErrNotConnected)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
	assert.Zero(t, c.SubscriptionCount(), "failed subscription was tracked")
}

func TestValidation(t *testing.T) {
	c := newClient(testConfig())

	assert.ErrorIs(t, c.Publish("", nil, 0, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("a", nil, 3, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish("a", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed)
	assert.ErrorIs(t, c.Subscribe("a", 0, nil), ErrSubscribeFailed)
	assert.ErrorIs(t, c.Unsubscribe(""), ErrInvalidTopic)
}

func TestHealthCheckCancelled(t *testing.T) {
	c := newClient(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.HealthCheck(ctx), context.Canceled)
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestDispatchRecoversAndLogs(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { return nil }, "t", nil)

	assert.Len(t, logger.errors, 1, "panic is logged as an error")
	assert.Len(t, logger.warns, 1, "handler error is logged as a warning")
}

func TestConnectionCallbacks(t *testing.T) {
	c := newClient(testConfig())
	var connected, lost int
	c.SetOnConnect(func() { connected++ })
	c.SetOnDisconnect(func(error) { lost++ })

	c.handleConnect()
	c.handleDisconnect(errors.New("broker gone"))

	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, lost)
}

func TestCloseUnconnected(t *testing.T) {
	c := &Client{}
	assert.NoError(t, c.Close())
}

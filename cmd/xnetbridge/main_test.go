package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/xnet-bridge/internal/turnout"
	"github.com/nerrad567/xnet-bridge/internal/xnet"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport/transporttest"
)

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnvVar, "")
	assert.Equal(t, defaultConfigPath, getConfigPath(nil))

	t.Setenv(configEnvVar, "/etc/xnetbridge/config.yaml")
	assert.Equal(t, "/etc/xnetbridge/config.yaml", getConfigPath(nil))

	cmd := newRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", "/tmp/flag.yaml"))
	assert.Equal(t, "/tmp/flag.yaml", getConfigPath(cmd), "the flag wins over the environment")
}

func TestLoadConfig(t *testing.T) {
	t.Run("explicit missing file", func(t *testing.T) {
		t.Setenv(configEnvVar, "/nonexistent/path/config.yaml")
		_, _, err := loadConfig(nil)
		assert.Error(t, err)
	})

	t.Run("default path falls back to defaults", func(t *testing.T) {
		t.Setenv(configEnvVar, "")
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(wd) })
		cfg, path, err := loadConfig(nil)
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Equal(t, "serial", cfg.XNet.Link)
	})

	t.Run("file", func(t *testing.T) {
		path := writeConfig(t, "site:\n  id: test-site\nxnet:\n  link: tcp\n  tcp_address: 192.168.0.200:5550\n")
		t.Setenv(configEnvVar, path)
		cfg, got, err := loadConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, path, got)
		assert.Equal(t, "test-site", cfg.Site.ID)
		assert.Equal(t, "tcp", cfg.XNet.Link)
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "xnetbridge dev"), "output = %q", out)
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "xnetbridge.db")
	path := writeConfig(t, "site:\n  id: test\ndatabase:\n  path: "+dbPath+"\n  wal_mode: true\n  busy_timeout: 1\n")

	out, err := execute(t, "migrate", "--config", path, "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending  20260301_120000  turnouts")

	out, err = execute(t, "migrate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "applied  20260301_120000")
	assert.NotContains(t, out, "pending")

	out, err = execute(t, "migrate", "--config", path, "--down")
	require.NoError(t, err)
	assert.Contains(t, out, "pending  20260301_120000")

	_, err = execute(t, "migrate", "--config", path, "--down", "--status")
	assert.Error(t, err, "--down and --status together should fail")
}

func TestSetCommand_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing state", []string{"set", "5"}},
		{"bad address", []string{"set", "five", "thrown"}},
		{"bad state", []string{"set", "5", "inconsistent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err, "%v should fail", tt.args)
		})
	}
}

// ackEverything answers each new drive and OFF message with OK, like a
// command station that accepts all accessory commands.
func ackEverything(ctx context.Context, tr *transporttest.Recorder) {
	ok := xnet.NewReply(0x01, 0x04)
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
		n := tr.Count(func(s transporttest.Sent) bool { return s.Message.IsAccessoryCommand() })
		for ; seen < n; seen++ {
			tr.Broadcast(ok)
		}
	}
}

func TestSetAndWait_Direct(t *testing.T) {
	cfg := config.Default()
	cfg.XNet.OffDelayMs = 1
	tr := transporttest.New()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go ackEverything(ctx, tr)

	st, err := setAndWait(ctx, cfg, tr, config.TurnoutConfig{Address: 18, FeedbackMode: "direct"}, turnout.Thrown, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, turnout.Thrown, st.Known)
	assert.Equal(t, turnout.Idle, st.Internal)
	assert.Equal(t, 1, tr.Count(transporttest.IsDrive), "sent %v", tr.Sent())
	assert.GreaterOrEqual(t, tr.Count(transporttest.IsOff), 1, "sent %v", tr.Sent())
}

func TestSetAndWait_Timeout(t *testing.T) {
	cfg := config.Default()
	tr := transporttest.New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	st, err := setAndWait(ctx, cfg, tr, turnoutFor(cfg, 7), turnout.Closed, logging.Discard())
	require.ErrorIs(t, err, errNotConfirmed)
	assert.Equal(t, turnout.Inconsistent, st.Known)
}

func TestTurnoutFor(t *testing.T) {
	cfg := config.Default()
	cfg.Turnouts = []config.TurnoutConfig{{Address: 3, Name: "Crossover", FeedbackMode: "exact", Inverted: true}}

	declared := turnoutFor(cfg, 3)
	assert.Equal(t, "Crossover", declared.Name)
	assert.True(t, declared.Inverted)

	undeclared := turnoutFor(cfg, 4)
	assert.Equal(t, 4, undeclared.Address)
	assert.Equal(t, cfg.XNet.DefaultFeedbackMode, undeclared.FeedbackMode)
}

func TestTurnoutConfigs(t *testing.T) {
	got, err := turnoutConfigs([]config.TurnoutConfig{
		{Address: 1, Name: "A", FeedbackMode: "direct"},
		{Address: 2, FeedbackMode: "SIGNAL", Inverted: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []turnout.Config{
		{Address: 1, Name: "A", Mode: turnout.Direct},
		{Address: 2, Mode: turnout.Signal, Inverted: true},
	}, got)

	_, err = turnoutConfigs([]config.TurnoutConfig{{Address: 1, FeedbackMode: "bogus"}, {Address: 2, FeedbackMode: "nope"}})
	assert.ErrorIs(t, err, turnout.ErrInvalidFeedbackMode)
}

func TestNewLink(t *testing.T) {
	assert.IsType(t, &transport.TCPLink{}, newLink(config.XNetConfig{Link: "tcp", TCPAddress: "127.0.0.1:5550"}))
	assert.IsType(t, &transport.SerialLink{}, newLink(config.XNetConfig{Link: "serial", SerialPort: "/dev/ttyUSB0", BaudRate: 19200}))
}

func TestBusCounters(t *testing.T) {
	got := busCounters(transport.Stats{FramesTx: 10, FramesRx: 12, Timeouts: 1, QueueLength: 3, Connected: true})
	assert.Equal(t, 10.0, got["frames_tx"])
	assert.Equal(t, 12.0, got["frames_rx"])
	assert.Equal(t, 1.0, got["timeouts"])
	assert.Equal(t, 3.0, got["queue_length"])
	assert.Equal(t, 1.0, got["connected"])

	assert.Equal(t, 0.0, busCounters(transport.Stats{})["connected"], "disconnected link should report 0")
}

func TestRun_DatabaseFailure(t *testing.T) {
	// A regular file where the database directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Database.Path = filepath.Join(blocker, "xnetbridge.db")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, run(ctx, cfg, ""), "run() should fail when the database cannot be opened")
}

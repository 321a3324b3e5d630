// xnetbridge drives XpressNet turnouts from MQTT and HTTP.
//
// The bridge talks to a Lenz-compatible command station over an LI101/LI-USB
// serial interface or an XpressNet-over-TCP adapter, tracks the commanded and
// known position of every configured turnout, and republishes changes on
// MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "XNETBRIDGE_CONFIG"
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so every command shuts down through its
	// defer chain.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. It is a constructor rather than a
// package variable so tests get fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "xnetbridge",
		Short:         "XpressNet turnout bridge",
		Long:          `xnetbridge controls XpressNet accessory decoders and mirrors their state to MQTT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(),
		newSetCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return root
}

// getConfigPath resolves the config file: the --config flag, then
// XNETBRIDGE_CONFIG, then the default.
func getConfigPath(cmd *cobra.Command) string {
	if cmd != nil {
		if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
			return f.Value.String()
		}
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the resolved config file. When no file exists at the
// default path the built-in defaults are used, so one-shot commands work on
// a fresh checkout. An explicitly named file must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := getConfigPath(cmd)
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", fmt.Errorf("validating default config: %w", err)
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

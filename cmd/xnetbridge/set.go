package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/xnet-bridge/internal/turnout"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

const defaultSetTimeout = 5 * time.Second

// errNotConfirmed is returned when the layout does not report the commanded
// position in time.
var errNotConfirmed = errors.New("position not confirmed")

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <address> <closed|thrown>",
		Short: "Move one turnout and wait for the layout to confirm it",
		Long: `set opens the XpressNet link directly, sends one command and waits until the
turnout's known state matches it. It must not run alongside "serve" on the same
serial port.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid address %q", args[0])
			}
			state, err := turnout.ParseState(args[1])
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version)

			bus, err := transport.Connect(cmd.Context(), transport.Options{
				Link:   newLink(cfg.XNet),
				Logger: log,
			})
			if err != nil {
				return fmt.Errorf("opening XpressNet link: %w", err)
			}
			defer bus.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := setAndWait(ctx, cfg, bus, turnoutFor(cfg, address), state, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "turnout %d %s\n", st.Address, st.Known)
			return nil
		},
	}
	cmd.Flags().Duration("timeout", defaultSetTimeout, "how long to wait for confirmation")
	return cmd
}

// turnoutFor returns the declared definition of address, or one using the
// default feedback mode.
func turnoutFor(cfg *config.Config, address int) config.TurnoutConfig {
	for _, t := range cfg.Turnouts {
		if t.Address == address {
			return t
		}
	}
	return config.TurnoutConfig{Address: address, FeedbackMode: cfg.XNet.DefaultFeedbackMode}
}

// setAndWait commands one turnout over tr and blocks until the known state
// matches and the output has been released, or ctx ends.
func setAndWait(ctx context.Context, cfg *config.Config, tr transport.Transport, def config.TurnoutConfig, state turnout.State, log *logging.Logger) (turnout.Status, error) {
	defs, err := turnoutConfigs([]config.TurnoutConfig{def})
	if err != nil {
		return turnout.Status{}, err
	}
	opts := managerOptions(cfg, tr, nil, log, nil)
	opts.RequestUpdate = false
	manager, err := turnout.NewManager(opts)
	if err != nil {
		return turnout.Status{}, err
	}
	defer manager.DisposeAll()

	done := make(chan turnout.Status, 1)
	manager.Subscribe(turnout.ObserverFunc(func(c turnout.Change) {
		if c.Property != turnout.PropertyKnownState {
			return
		}
		if c.Status.Known == c.Status.Commanded {
			select {
			case done <- c.Status:
			default:
			}
		}
	}))

	t, err := manager.Provide(ctx, defs[0])
	if err != nil {
		return turnout.Status{}, err
	}
	if err := t.SetCommandedState(state); err != nil {
		return turnout.Status{}, err
	}

	select {
	case st := <-done:
		if st.Known != state {
			return st, fmt.Errorf("turnout %d: %w (known state %s)", st.Address, errNotConfirmed, st.Known)
		}
	case <-ctx.Done():
		st := t.Snapshot()
		return st, fmt.Errorf("turnout %d: %w within timeout (known state %s)", st.Address, errNotConfirmed, st.Known)
	}

	// The position is confirmed before the OFF goes out. Disposing now would
	// cancel it and leave the decoder output energised.
	return waitIdle(ctx, t)
}

const idlePollInterval = 5 * time.Millisecond

// waitIdle polls until t has released its output.
func waitIdle(ctx context.Context, t *turnout.Turnout) (turnout.Status, error) {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		st := t.Snapshot()
		if st.Internal == turnout.Idle {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("turnout %d: output release not acknowledged (%s)", st.Address, st.Internal)
		case <-ticker.C:
		}
	}
}

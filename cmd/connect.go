package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/client"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/multiplexer"
	"github.com/scharc/boxctl/internal/tunnel"
)

var (
	connectNoSync      bool
	connectMultiplexer string
	connectPoll        time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect this container to the host daemon",
	Long: `Runs the container-side client in the foreground.

The client keeps a tunnel session to the host daemon open, reconnecting
with backoff when it drops. It relays exposed and forwarded ports, streams
terminal contents, serves the local socket used by 'boxctl notify' and
runs the config sync for every agent.

Connection settings come from BOXCTL_SOCKET or BOXCTL_ADDR, BOXCTL_TOKEN,
BOXCTL_IDENTITY, BOXCTL_PROJECT and BOXCTL_NOTIFY_SOCKET.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().BoolVar(&connectNoSync, "no-sync", false, "Do not run the config sync")
	connectCmd.Flags().StringVar(&connectMultiplexer, "multiplexer", string(multiplexer.TypeTmux), "Terminal multiplexer to stream (tmux, wezterm or none)")
	connectCmd.Flags().DurationVar(&connectPoll, "terminal-interval", client.DefaultPollInterval, "How often terminal contents are captured")
	addLocationFlags(connectCmd)
	rootCmd.AddCommand(connectCmd)
}

func clientOptions() ([]client.Option, error) {
	var opts []client.Option

	switch connectMultiplexer {
	case "none", "":
	case string(multiplexer.TypeTmux), string(multiplexer.TypeWezterm):
		mux := multiplexer.New(multiplexer.Type(connectMultiplexer), app.Default.Executor)
		opts = append(opts, client.WithMultiplexer(mux, connectPoll))
	default:
		return nil, fmt.Errorf("unknown multiplexer %q: must be tmux, wezterm or none", connectMultiplexer)
	}

	if !connectNoSync {
		runner, err := newSyncRunner(nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithSyncRunner(runner))
	}

	opts = append(opts, client.WithStateHook(func(s tunnel.SessionState) {
		if s.Stalled {
			logWarning("Session marked stalled by the daemon; run 'boxctl resume' once the agent continues")
		}
	}))
	return opts, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	settings := config.ClientSettingsFromEnv()
	if err := config.ValidateProjectName(settings.Project); err != nil {
		return fmt.Errorf("BOXCTL_PROJECT: %w", err)
	}

	opts, err := clientOptions()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	logging.Debug("connecting", "identity", settings.Identity, "project", settings.Project)
	err = client.New(settings, opts...).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

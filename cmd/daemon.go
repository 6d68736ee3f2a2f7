package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/system"
)

var daemonCheck bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the host daemon",
	Long: `Runs the host daemon in the foreground.

The daemon accepts tunnel connections from containers, serves the control
API used by the other commands and reloads notification and stall
settings when the host config changes.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonCheck, "check", false, "Validate the host config and exit")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	paths := app.Default.Paths
	cfg, err := config.LoadHostConfig(system.DefaultFS(), paths.HostConfigFile())
	if err != nil {
		return err
	}
	if daemonCheck {
		logSuccess("Host config %s is valid", paths.HostConfigFile())
		return nil
	}

	a := app.New(
		app.WithPaths(paths),
		app.WithHostConfig(cfg),
		app.WithAudit(audit.NewLogger(paths.EventsDir())),
	)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	logging.Debug("starting daemon", "config", paths.HostConfigFile())
	if err := daemon.New(a).Run(ctx); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}

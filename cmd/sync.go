package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/agent"
	"github.com/scharc/boxctl/internal/agentconf"
	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/syncloop"
)

var (
	syncOnce       bool
	syncLibraryDir string
	syncProjectDir string
	syncHomeDir    string
)

var syncCmd = &cobra.Command{
	Use:   "sync [agent...]",
	Short: "Keep agent runtime configs in sync with the project",
	Long: `Polls the project and runtime config of each agent and propagates
changes in either direction: project edits are merged with the baseline
into the runtime config, and agent edits to the runtime config are split
back into the project config.

With no agent names every known agent is synced. Use --once to merge
the current project config and exit.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "Merge once and exit")
	addLocationFlags(syncCmd)
	rootCmd.AddCommand(syncCmd)
}

// addLocationFlags registers the document root overrides shared by sync,
// connect and config.
func addLocationFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&syncLibraryDir, "library", agent.DefaultLibraryDir, "Directory holding baseline configs")
	cmd.Flags().StringVar(&syncProjectDir, "project-dir", agent.DefaultProjectDir, "Project directory")
	cmd.Flags().StringVar(&syncHomeDir, "home", agent.DefaultHomeDir, "Home directory holding runtime configs")
}

func syncLocations() agent.Locations {
	return agent.Locations{
		LibraryDir: syncLibraryDir,
		ProjectDir: syncProjectDir,
		HomeDir:    syncHomeDir,
	}
}

func newEngine() *agentconf.Engine {
	return agentconf.NewEngine(
		agentconf.WithFileSystem(app.Default.FS),
		agentconf.WithLockTimeout(app.Default.HostConfig().Sync.LockTimeout),
	)
}

// newSyncRunner builds a runner for the named agents.
func newSyncRunner(names []string) (*syncloop.Runner, error) {
	pairs, err := agentconf.Pairs(syncLocations(), names...)
	if err != nil {
		return nil, err
	}
	engine := newEngine()
	loops := make([]*syncloop.Loop, 0, len(pairs))
	for _, p := range pairs {
		loops = append(loops, syncloop.NewLoop(p, engine, app.Default.FS))
	}
	return syncloop.NewRunner(app.Default.HostConfig().Sync.Interval, loops,
		syncloop.WithTickHook(func(l *syncloop.Loop, action syncloop.Action, err error) {
			if err != nil {
				logging.Warn("config sync failed", "agent", l.Pair().Agent.Name, "action", action.String(), "error", err)
				return
			}
			logging.Debug("config synced", "agent", l.Pair().Agent.Name, "action", action.String())
		}),
	), nil
}

func runSync(cmd *cobra.Command, args []string) error {
	runner, err := newSyncRunner(args)
	if err != nil {
		return err
	}

	if syncOnce {
		var failed int
		for _, l := range runner.Loops() {
			if err := l.Prime(cmd.Context()); err != nil {
				logWarning("%s: %v", l.Pair().Agent.Name, err)
				failed++
				continue
			}
			if l.Stats().Merges > 0 {
				logSuccess("%s: merged into %s", l.Pair().Agent.Name, l.Pair().Files.Runtime)
			} else {
				logInfo("%s: no project config", l.Pair().Agent.Name)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d agents failed to sync", failed, len(runner.Loops()))
		}
		return nil
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

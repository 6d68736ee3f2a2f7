package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/errors"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear the stalled state of this container's session",
	Long: `Tells the daemon that the agent in this container is working again.
The stalled flag is cleared and stall detection starts over. Only
available inside a container running 'boxctl connect'.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	local, ok := newLocalAPI()
	if !ok {
		return errors.New(errors.ExitDaemonUnavailable, "no container client running; resume only works inside a container")
	}
	state, err := local.Resume(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), state)
	}
	logSuccess("Session %s", state.State)
	return nil
}

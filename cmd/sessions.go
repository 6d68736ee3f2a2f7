package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/health"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ps"},
	Short:   "List container sessions known to the daemon",
	Args:    cobra.NoArgs,
	RunE:    runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	sessions, err := newControlAPI().Sessions(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, sessions)
	}
	if len(sessions) == 0 {
		logInfo("No containers connected. Start one with: boxctl connect")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tPROJECT\tSTATUS\tIDLE\tUPTIME\tSTREAMS")
	fmt.Fprintln(w, "--------\t-------\t------\t----\t------\t-------")
	for _, s := range sessions {
		kinds := make([]string, 0, len(s.Streams))
		for _, st := range s.Streams {
			kinds = append(kinds, st.Kind)
		}
		streams := "-"
		if len(kinds) > 0 {
			streams = strings.Join(kinds, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Identity, s.Project, formatStatus(s.Status), s.Idle, s.Uptime, streams)
	}
	return w.Flush()
}

func formatStatus(status health.Status) string {
	switch status {
	case health.StatusActive:
		return "✓ active"
	case health.StatusIdle:
		return "○ idle"
	case health.StatusStalled:
		return "⚠ stalled"
	case health.StatusConnecting:
		return "… connecting"
	case health.StatusDisconnected:
		return "● disconnected"
	default:
		return string(status)
	}
}


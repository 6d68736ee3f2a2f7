package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/notify"
)

var notificationsLimit int

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show recent notifications, newest first",
	Args:  cobra.NoArgs,
	RunE:  runNotifications,
}

func init() {
	notificationsCmd.Flags().IntVarP(&notificationsLimit, "limit", "n", 20, "Maximum number of notifications (0 for all)")
	rootCmd.AddCommand(notificationsCmd)
}

func runNotifications(cmd *cobra.Command, args []string) error {
	items, err := newControlAPI().Notifications(cmd.Context(), notificationsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, items)
	}
	if len(items) == 0 {
		logInfo("No notifications yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tIDENTITY\tURGENCY\tSTATUS\tTITLE\tMESSAGE")
	fmt.Fprintln(w, "----\t--------\t-------\t------\t-----\t-------")
	for _, n := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.Time.Local().Format("15:04:05"), n.Identity, n.Urgency, deliveryStatus(n), n.Title, n.Short())
	}
	return w.Flush()
}

func deliveryStatus(n notify.Notification) string {
	switch {
	case n.Suppressed:
		return "suppressed"
	case n.Delivered:
		return "delivered"
	case len(n.Errors) > 0:
		return "failed"
	default:
		return "recorded"
	}
}

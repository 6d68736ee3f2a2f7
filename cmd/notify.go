package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/client"
	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/tunnel"
)

var (
	notifyUrgency string
	notifyProject string
)

var notifyCmd = &cobra.Command{
	Use:   "notify <title> <message>",
	Short: "Send a notification to the host desktop",
	Long: `Sends a notification through the host daemon.

Inside a container the notification travels through the container's
tunnel session, so repeated identical notifications are deduplicated per
container. On the host it is raised under the "host" identity.`,
	Args: cobra.ExactArgs(2),
	RunE: runNotify,
}

func init() {
	notifyCmd.Flags().StringVarP(&notifyUrgency, "urgency", "u", string(notify.UrgencyNormal), "Urgency: low, normal, high or critical")
	notifyCmd.Flags().StringVarP(&notifyProject, "project", "p", "", "Project to attribute a host notification to")
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	if _, err := notify.ParseUrgency(notifyUrgency); err != nil {
		return err
	}

	var res tunnel.NotifyResult
	ctx := cmd.Context()
	if local, ok := newLocalAPI(); ok {
		var err error
		res, err = local.Notify(ctx, client.LocalNotify{
			Title:   args[0],
			Message: args[1],
			Urgency: notifyUrgency,
		})
		if err != nil {
			return err
		}
	} else {
		n, err := newControlAPI().Notify(ctx, daemon.NotifyRequest{
			Project: notifyProject,
			Title:   args[0],
			Message: args[1],
			Urgency: notifyUrgency,
		})
		if err != nil {
			return err
		}
		res = tunnel.NotifyResult{ID: n.ID, Delivered: n.Delivered, Suppressed: n.Suppressed}
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	switch {
	case res.Suppressed:
		logInfo("Duplicate notification suppressed")
	case res.Delivered:
		logSuccess("Notification delivered")
	default:
		logWarning("Notification recorded but no sink delivered it")
	}
	return nil
}

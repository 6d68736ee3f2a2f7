package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/client"
	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/port"
	"github.com/scharc/boxctl/internal/tunnel"
)

var (
	portsProject string
	portsBind    string
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Manage port tunnels between host and containers",
	Long: `Manages port tunnels.

expose makes a container port reachable on the host; forward makes a host
port reachable inside the container. Tunnels are stored in the project
config and are active while the project's container is connected.

Inside a container the commands act on the container's own project
through the running client. On the host, --project selects the project
(default: the project of the working directory).`,
}

var portsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List port tunnels",
	Args:  cobra.NoArgs,
	RunE:  runPortsList,
}

var portsExposeCmd = &cobra.Command{
	Use:   "expose <container-port> [host-port]",
	Short: "Expose a container port on the host",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPortsAdd(cmd, port.Expose, args)
	},
}

var portsForwardCmd = &cobra.Command{
	Use:   "forward <container-port> [host-port]",
	Short: "Forward a host port into the container",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPortsAdd(cmd, port.Forward, args)
	},
}

var portsUnexposeCmd = &cobra.Command{
	Use:   "unexpose <host-port>",
	Short: "Remove an exposed port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPortsRemove(cmd, port.Expose, args[0])
	},
}

var portsUnforwardCmd = &cobra.Command{
	Use:   "unforward <host-port>",
	Short: "Remove a forwarded port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPortsRemove(cmd, port.Forward, args[0])
	},
}

func init() {
	portsCmd.PersistentFlags().StringVarP(&portsProject, "project", "p", "", "Project (host only)")
	portsExposeCmd.Flags().StringVar(&portsBind, "bind", "", "Host address to listen on (default 127.0.0.1)")
	portsCmd.AddCommand(portsListCmd, portsExposeCmd, portsForwardCmd, portsUnexposeCmd, portsUnforwardCmd)
	rootCmd.AddCommand(portsCmd)
}

// portRow is a tunnel as printed by the ports commands.
type portRow struct {
	Project       string `json:"project"`
	Direction     string `json:"direction"`
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Bind          string `json:"bind,omitempty"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
}

func rowFromTunnel(t port.Tunnel) portRow {
	return portRow{
		Project:       t.Project,
		Direction:     string(t.Direction),
		ContainerPort: t.ContainerPort,
		HostPort:      t.HostPort,
		Bind:          t.Bind,
		State:         string(t.State),
		Error:         t.Error,
	}
}

func rowFromStatus(s tunnel.PortStatus) portRow {
	return portRow{
		Project:       s.Project,
		Direction:     s.Direction,
		ContainerPort: s.ContainerPort,
		HostPort:      s.HostPort,
		Bind:          s.Bind,
		State:         s.State,
	}
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > port.MaxPort {
		return 0, errors.ValidationError(fmt.Sprintf("invalid port %q", s))
	}
	return n, nil
}

func runPortsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var rows []portRow

	if local, ok := newLocalAPI(); ok && portsProject == "" {
		statuses, err := local.Ports(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			rows = append(rows, rowFromStatus(s))
		}
	} else {
		tunnels, err := newControlAPI().Ports(ctx, portsProject)
		if err != nil {
			return err
		}
		for _, t := range tunnels {
			rows = append(rows, rowFromTunnel(t))
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if rows == nil {
			rows = []portRow{}
		}
		return writeJSON(out, rows)
	}
	if len(rows) == 0 {
		logInfo("No port tunnels configured. Add one with: boxctl ports expose <container-port>")
		return nil
	}
	return printPorts(out, rows)
}

func printPorts(out io.Writer, rows []portRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tDIRECTION\tCONTAINER\tHOST\tSTATE")
	fmt.Fprintln(w, "-------\t---------\t---------\t----\t-----")
	for _, r := range rows {
		host := strconv.Itoa(r.HostPort)
		if r.Bind != "" {
			host = r.Bind + ":" + host
		}
		state := formatPortState(r.State)
		if r.Error != "" {
			state += " (" + r.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Project, r.Direction, r.ContainerPort, host, state)
	}
	return w.Flush()
}

func formatPortState(state string) string {
	switch port.State(state) {
	case port.StateActive:
		return "✓ active"
	case port.StateConfigured:
		return "○ configured"
	case port.StateRemoved:
		return "● removed"
	default:
		return state
	}
}

func runPortsAdd(cmd *cobra.Command, dir port.Direction, args []string) error {
	containerPort, err := parsePort(args[0])
	if err != nil {
		return err
	}
	var hostPort int
	if len(args) == 2 {
		if hostPort, err = parsePort(args[1]); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	var row portRow
	if local, ok := newLocalAPI(); ok && portsProject == "" {
		status, err := local.AddPort(ctx, client.LocalPort{
			Direction:     string(dir),
			ContainerPort: containerPort,
			HostPort:      hostPort,
			Bind:          portsBind,
		})
		if err != nil {
			return err
		}
		row = rowFromStatus(status)
	} else {
		project, err := currentProject(portsProject)
		if err != nil {
			return err
		}
		t, err := newControlAPI().AddPort(ctx, daemon.PortRequest{
			Project:       project,
			Direction:     string(dir),
			ContainerPort: containerPort,
			HostPort:      hostPort,
			Bind:          portsBind,
		})
		if err != nil {
			return err
		}
		row = rowFromTunnel(t)
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), row)
	}
	if dir == port.Expose {
		logSuccess("Container port %d of %s exposed on host port %d (%s)", row.ContainerPort, row.Project, row.HostPort, row.State)
	} else {
		logSuccess("Host port %d forwarded to container port %d of %s (%s)", row.HostPort, row.ContainerPort, row.Project, row.State)
	}
	return nil
}

func runPortsRemove(cmd *cobra.Command, dir port.Direction, arg string) error {
	hostPort, err := parsePort(arg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var row portRow
	if local, ok := newLocalAPI(); ok && portsProject == "" {
		status, err := local.RemovePort(ctx, string(dir), hostPort)
		if err != nil {
			return err
		}
		row = rowFromStatus(status)
	} else {
		project, err := currentProject(portsProject)
		if err != nil {
			return err
		}
		t, err := newControlAPI().RemovePort(ctx, project, dir, hostPort)
		if err != nil {
			return err
		}
		row = rowFromTunnel(t)
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), row)
	}
	logSuccess("Removed %s tunnel on host port %d of %s", dir, row.HostPort, row.Project)
	return nil
}

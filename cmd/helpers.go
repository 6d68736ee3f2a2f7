package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/client"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
	"github.com/scharc/boxctl/internal/system"
	"github.com/scharc/boxctl/internal/tunnel"
)

// controlAPI is the daemon's HTTP API as used by the host-side commands.
type controlAPI interface {
	Sessions(ctx context.Context) ([]daemon.SessionView, error)
	Terminals(ctx context.Context, identity string) ([]daemon.Terminal, error)
	Ports(ctx context.Context, project string) ([]port.Tunnel, error)
	AddPort(ctx context.Context, req daemon.PortRequest) (port.Tunnel, error)
	RemovePort(ctx context.Context, project string, dir port.Direction, hostPort int) (port.Tunnel, error)
	Notifications(ctx context.Context, limit int) ([]notify.Notification, error)
	Notify(ctx context.Context, req daemon.NotifyRequest) (notify.Notification, error)
}

// localAPI is the container client's local socket.
type localAPI interface {
	Notify(ctx context.Context, n client.LocalNotify) (tunnel.NotifyResult, error)
	Resume(ctx context.Context) (tunnel.SessionState, error)
	Ports(ctx context.Context) ([]tunnel.PortStatus, error)
	AddPort(ctx context.Context, p client.LocalPort) (tunnel.PortStatus, error)
	RemovePort(ctx context.Context, direction string, hostPort int) (tunnel.PortStatus, error)
}

// Replaced in tests.
var (
	newControlAPI = func() controlAPI {
		a := app.Default
		return daemon.NewAPIClient(a.HostConfig().ControlSocket(a.Paths))
	}

	// newLocalAPI returns the local socket client when boxctl runs inside
	// a container with a running client, and false otherwise.
	newLocalAPI = func() (localAPI, bool) {
		settings := config.ClientSettingsFromEnv()
		if os.Getenv("BOXCTL_NOTIFY_SOCKET") == "" {
			if _, err := os.Stat(settings.NotifySocket); err != nil {
				return nil, false
			}
		}
		return client.NewLocalClient(settings.NotifySocket), true
	}
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// currentProject resolves the project a host-side command applies to: the
// explicit name, then the project config of the working directory, then
// the working directory's base name.
func currentProject(explicit string) (string, error) {
	if explicit != "" {
		return explicit, config.ValidateProjectName(explicit)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if path, err := config.ProjectConfigPath(wd); err == nil {
		if cfg, err := config.LoadProjectConfig(system.DefaultFS(), path); err == nil && cfg.Project != "" {
			return cfg.Project, nil
		}
	}
	name := strings.ToLower(filepath.Base(wd))
	return name, config.ValidateProjectName(name)
}

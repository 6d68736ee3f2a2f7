package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ContainerSocketDir is where the daemon's runtime directory is mounted
// inside containers.
const ContainerSocketDir = "/run/boxctl"

// ClientSettings configures the container-side client. Values come from
// the environment the container was started with.
type ClientSettings struct {
	// Socket is the tunnel socket (BOXCTL_SOCKET).
	Socket string

	// Address is a TCP tunnel address used instead of Socket (BOXCTL_ADDR).
	Address string

	// Identity names the container (BOXCTL_IDENTITY, default hostname).
	Identity string

	// Project is the project name (BOXCTL_PROJECT, default derived from
	// Identity).
	Project string

	// ProjectDir is the project directory on the host
	// (BOXCTL_PROJECT_DIR). The daemon records it in the project index.
	ProjectDir string

	// Token is presented in the handshake (BOXCTL_TOKEN).
	Token string

	// NotifySocket is the local socket `boxctl notify` talks to
	// (BOXCTL_NOTIFY_SOCKET).
	NotifySocket string
}

// ClientSettingsFromEnv reads ClientSettings from the environment.
func ClientSettingsFromEnv() ClientSettings {
	s := ClientSettings{
		Socket:       os.Getenv("BOXCTL_SOCKET"),
		Address:      os.Getenv("BOXCTL_ADDR"),
		Identity:     os.Getenv("BOXCTL_IDENTITY"),
		Project:      os.Getenv("BOXCTL_PROJECT"),
		ProjectDir:   os.Getenv("BOXCTL_PROJECT_DIR"),
		Token:        os.Getenv("BOXCTL_TOKEN"),
		NotifySocket: os.Getenv("BOXCTL_NOTIFY_SOCKET"),
	}
	if s.Socket == "" {
		s.Socket = filepath.Join(ContainerSocketDir, "tunnel.sock")
	}
	if s.Identity == "" {
		s.Identity, _ = os.Hostname()
	}
	if s.Project == "" {
		s.Project = strings.TrimPrefix(s.Identity, ContainerPrefix)
	}
	if s.NotifySocket == "" {
		s.NotifySocket = filepath.Join(os.TempDir(), "boxctl-notify.sock")
	}
	return s
}

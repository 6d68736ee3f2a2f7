package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// projectNameRegex validates project names.
// Names must start with a lowercase letter or digit, followed by lowercase
// letters, digits, underscores, dots or hyphens, at most 63 characters.
var projectNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

// ValidateProjectName checks if a project name is valid.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if !projectNameRegex.MatchString(name) {
		return fmt.Errorf("invalid project name %q: must start with a lowercase letter or digit, contain only lowercase letters, digits, dots, underscores, or hyphens, and be at most 63 characters", name)
	}
	return nil
}

const (
	// AppName names the config, state and runtime directories.
	AppName = "boxctl"

	// ContainerPrefix is prepended to project names to form container names.
	ContainerPrefix = "boxctl-"

	// HostConfigName is the host config file inside ConfigDir.
	HostConfigName = "config.yml"
)

// Paths holds the directories boxctl uses on the host.
type Paths struct {
	ConfigDir  string
	StateDir   string
	RuntimeDir string
}

// DefaultPaths resolves paths from BOXCTL_*_DIR overrides and the XDG
// base directory variables.
func DefaultPaths() *Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}

	configDir := firstNonEmpty(
		os.Getenv("BOXCTL_CONFIG_DIR"),
		xdgDir("XDG_CONFIG_HOME", AppName),
		filepath.Join(home, ".config", AppName),
	)
	stateDir := firstNonEmpty(
		os.Getenv("BOXCTL_STATE_DIR"),
		xdgDir("XDG_STATE_HOME", AppName),
		filepath.Join(home, ".local", "state", AppName),
	)
	runtimeDir := firstNonEmpty(
		os.Getenv("BOXCTL_RUNTIME_DIR"),
		xdgDir("XDG_RUNTIME_DIR", AppName+"d"),
		filepath.Join(os.TempDir(), fmt.Sprintf("%sd-%d", AppName, os.Getuid())),
	)

	return &Paths{
		ConfigDir:  configDir,
		StateDir:   stateDir,
		RuntimeDir: runtimeDir,
	}
}

func xdgDir(env, name string) string {
	base := os.Getenv(env)
	if base == "" {
		return ""
	}
	return filepath.Join(base, name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// HostConfigFile returns the host config path.
func (p *Paths) HostConfigFile() string {
	return filepath.Join(p.ConfigDir, HostConfigName)
}

// ProjectIndexFile returns the path of the project index.
func (p *Paths) ProjectIndexFile() string {
	return filepath.Join(p.StateDir, "projects.yml")
}

// PortsFile holds port configuration of projects whose directory the
// daemon does not know.
func (p *Paths) PortsFile() string {
	return filepath.Join(p.StateDir, "ports.yml")
}

// EventsDir holds the audit journals.
func (p *Paths) EventsDir() string {
	return filepath.Join(p.StateDir, "events")
}

// TunnelSocket is the default unix socket containers connect to.
func (p *Paths) TunnelSocket() string {
	return filepath.Join(p.RuntimeDir, "tunnel.sock")
}

// ControlSocket is the default unix socket of the HTTP query API.
func (p *Paths) ControlSocket() string {
	return filepath.Join(p.RuntimeDir, "control.sock")
}

// ContainerName returns the container name for a project.
func ContainerName(project string) string {
	return ContainerPrefix + project
}

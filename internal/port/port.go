package port

import (
	"fmt"
	"net"
	"strconv"

	"github.com/scharc/boxctl/internal/config"
	boxerrors "github.com/scharc/boxctl/internal/errors"
)

// Direction says which side listens.
type Direction string

const (
	// Expose publishes a container service on a host port.
	Expose Direction = "expose"

	// Forward makes a host service reachable from inside the container.
	Forward Direction = "forward"
)

// ParseDirection parses "expose" or "forward".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Expose, Forward:
		return Direction(s), nil
	default:
		return "", boxerrors.ValidationError(fmt.Sprintf("invalid direction %q: must be expose or forward", s))
	}
}

// State of a port tunnel.
type State string

const (
	StateConfigured State = "configured"
	StateActive     State = "active"
	StateRemoved    State = "removed"
)

const (
	// MinHostPort is the lowest host port a tunnel may use; privileged
	// ports are rejected.
	MinHostPort = 1024
	MaxPort     = 65535

	// DefaultBind is the host address used when none is configured.
	DefaultBind = "127.0.0.1"
)

// Tunnel is one configured port mapping of a project.
type Tunnel struct {
	Project       string    `json:"project"`
	Direction     Direction `json:"direction"`
	ContainerPort int       `json:"container_port"`
	HostPort      int       `json:"host_port"`
	Bind          string    `json:"bind,omitempty"`
	State         State     `json:"state"`
	Session       string    `json:"session,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Key identifies a tunnel.
type Key struct {
	Project   string
	Direction Direction
	HostPort  int
}

func (t Tunnel) Key() Key {
	return Key{Project: t.Project, Direction: t.Direction, HostPort: t.HostPort}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Project, k.Direction, k.HostPort)
}

// HostAddr is the host address the tunnel listens on or dials.
func (t Tunnel) HostAddr() string {
	bind := t.Bind
	if bind == "" {
		bind = DefaultBind
	}
	return net.JoinHostPort(bind, strconv.Itoa(t.HostPort))
}

// Normalize fills defaults and validates t.
func (t *Tunnel) Normalize() error {
	if err := config.ValidateProjectName(t.Project); err != nil {
		return boxerrors.ValidationError(err.Error())
	}
	if _, err := ParseDirection(string(t.Direction)); err != nil {
		return err
	}
	if t.ContainerPort < 1 || t.ContainerPort > MaxPort {
		return boxerrors.ValidationError(fmt.Sprintf("container port %d out of range", t.ContainerPort))
	}
	if t.HostPort == 0 {
		t.HostPort = t.ContainerPort
	}
	if t.HostPort < MinHostPort || t.HostPort > MaxPort {
		return boxerrors.ValidationError(fmt.Sprintf("host port %d not allowed: must be between %d and %d", t.HostPort, MinHostPort, MaxPort))
	}
	if t.Bind == "" {
		t.Bind = DefaultBind
	}
	if net.ParseIP(t.Bind) == nil && t.Bind != "localhost" {
		return boxerrors.ValidationError(fmt.Sprintf("invalid bind address %q", t.Bind))
	}
	return nil
}

// FindConflict scans every known tunnel, whatever its state, for one that
// claims the same host port as t.
func FindConflict(t Tunnel, known []Tunnel) (Tunnel, bool) {
	for _, other := range known {
		if other.Key() == t.Key() {
			continue
		}
		if other.HostPort == t.HostPort {
			return other, true
		}
	}
	return Tunnel{}, false
}

func fromSpecs(project string, dir Direction, specs []config.PortSpec) []Tunnel {
	tunnels := make([]Tunnel, 0, len(specs))
	for _, s := range specs {
		tunnels = append(tunnels, Tunnel{
			Project:       project,
			Direction:     dir,
			ContainerPort: s.ContainerPort,
			HostPort:      s.HostPort,
			Bind:          s.Bind,
			State:         StateConfigured,
		})
	}
	return tunnels
}

func toSpecs(tunnels []Tunnel) config.PortsConfig {
	var ports config.PortsConfig
	for _, t := range tunnels {
		spec := config.PortSpec{ContainerPort: t.ContainerPort, HostPort: t.HostPort}
		if t.Bind != DefaultBind {
			spec.Bind = t.Bind
		}
		switch t.Direction {
		case Expose:
			ports.Expose = append(ports.Expose, spec)
		case Forward:
			ports.Forward = append(ports.Forward, spec)
		}
	}
	return ports
}

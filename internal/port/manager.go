package port

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/registry"
	"github.com/scharc/boxctl/internal/tunnel"
)

// dialTimeout bounds dialing a host service for a forward stream.
const dialTimeout = 10 * time.Second

// Transport is the part of a session's connection the manager drives.
type Transport interface {
	OpenStream(ctx context.Context, req tunnel.OpenRequest) (*tunnel.Stream, error)
	Send(typ string, payload any) error
}

type entry struct {
	Tunnel
	session  *registry.Session
	listener net.Listener
}

// Manager owns every configured port tunnel and binds or arms them while
// their project has an active session. Session liveness is always read
// from the registry.
type Manager struct {
	app   *app.App
	reg   *registry.Registry
	store Store
	log   *slog.Logger

	listen func(network, address string) (net.Listener, error)
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	// opMu serializes control operations; mu guards the tunnel table.
	opMu    sync.Mutex
	mu      sync.Mutex
	tunnels map[Key]*entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithListenFunc replaces net.Listen for exposed ports.
func WithListenFunc(fn func(network, address string) (net.Listener, error)) Option {
	return func(m *Manager) {
		m.listen = fn
	}
}

// WithDialFunc replaces the dialer used for forwarded ports.
func WithDialFunc(fn func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(m *Manager) {
		m.dial = fn
	}
}

// New creates a manager. Call Load to read persisted tunnels and Attach to
// follow session lifecycle.
func New(a *app.App, reg *registry.Registry, store Store, opts ...Option) *Manager {
	dialer := &net.Dialer{Timeout: dialTimeout}
	m := &Manager{
		app:     a,
		reg:     reg,
		store:   store,
		log:     logging.With("component", "ports"),
		listen:  net.Listen,
		dial:    dialer.DialContext,
		tunnels: make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach activates a project's tunnels when its session becomes active
// and deactivates them when it disconnects.
func (m *Manager) Attach() {
	m.reg.OnActivate(func(s *registry.Session) {
		if err := m.ActivateSession(context.Background(), s); err != nil {
			m.log.Warn("some port tunnels failed to activate", "identity", s.Identity, "error", err)
		}
	})
	m.reg.OnDisconnect(func(s *registry.Session) {
		m.DeactivateSession(s)
	})
}

// Load reads every persisted tunnel into the table as Configured.
func (m *Manager) Load() error {
	projects, err := m.store.Projects()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, project := range projects {
		tunnels, err := m.store.Load(project)
		if err != nil {
			m.log.Warn("skipping project with unreadable port config", "project", project, "error", err)
			continue
		}
		for _, t := range tunnels {
			if err := t.Normalize(); err != nil {
				m.log.Warn("skipping invalid port tunnel", "project", project, "error", err)
				continue
			}
			if _, exists := m.tunnels[t.Key()]; exists {
				continue
			}
			t.State = StateConfigured
			m.tunnels[t.Key()] = &entry{Tunnel: t}
		}
	}
	return nil
}

// Add configures a new tunnel and persists it. When the project has an
// active session the tunnel is activated at once and an activation error
// is returned alongside the stored tunnel.
func (m *Manager) Add(ctx context.Context, t Tunnel) (Tunnel, error) {
	if err := t.Normalize(); err != nil {
		return Tunnel{}, err
	}
	t.State = StateConfigured
	t.Session = ""
	t.Error = ""

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if existing, ok := m.tunnels[t.Key()]; ok {
		same := existing.ContainerPort == t.ContainerPort && existing.Bind == t.Bind
		active := existing.State == StateActive
		m.mu.Unlock()
		if !same {
			return Tunnel{}, boxerrors.PortInUse(t.HostPort, t.Project)
		}
		// Re-adding a stuck tunnel retries activation.
		if !active {
			if s, err := m.reg.LookupProject(t.Project); err == nil {
				err := m.activate(ctx, t.Key(), s)
				return m.get(t.Key()), err
			}
		}
		return m.get(t.Key()), nil
	}
	if other, found := FindConflict(t, m.snapshotLocked()); found {
		m.mu.Unlock()
		return Tunnel{}, boxerrors.PortInUse(t.HostPort, other.Project)
	}
	next := append(m.projectLocked(t.Project), t)
	m.mu.Unlock()

	if err := m.store.Save(t.Project, next); err != nil {
		return Tunnel{}, err
	}

	m.mu.Lock()
	m.tunnels[t.Key()] = &entry{Tunnel: t}
	m.mu.Unlock()
	m.log.Info("port tunnel configured", "tunnel", t.Key().String(), "container_port", t.ContainerPort)

	if s, err := m.reg.LookupProject(t.Project); err == nil {
		err := m.activate(ctx, t.Key(), s)
		return m.get(t.Key()), err
	}
	return m.get(t.Key()), nil
}

// Remove deactivates and forgets a tunnel.
func (m *Manager) Remove(key Key) (Tunnel, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	e, ok := m.tunnels[key]
	if !ok {
		m.mu.Unlock()
		return Tunnel{}, boxerrors.ValidationError(fmt.Sprintf("no %s tunnel for host port %d in project %s", key.Direction, key.HostPort, key.Project))
	}
	var rest []Tunnel
	for _, t := range m.projectLocked(key.Project) {
		if t.Key() != key {
			rest = append(rest, t)
		}
	}
	m.mu.Unlock()

	if err := m.store.Save(key.Project, rest); err != nil {
		return Tunnel{}, err
	}
	m.deactivate(e)

	m.mu.Lock()
	delete(m.tunnels, key)
	removed := e.Tunnel
	m.mu.Unlock()

	removed.State = StateRemoved
	m.log.Info("port tunnel removed", "tunnel", key.String())
	return removed, nil
}

// Activate activates one tunnel on its project's active session.
func (m *Manager) Activate(ctx context.Context, key Key) error {
	s, err := m.reg.LookupProject(key.Project)
	if err != nil {
		return err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.activate(ctx, key, s)
}

// Deactivate unbinds or disarms a tunnel. It always succeeds.
func (m *Manager) Deactivate(key Key) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	e := m.tunnels[key]
	m.mu.Unlock()
	if e != nil {
		m.deactivate(e)
	}
}

// ActivateSession activates every tunnel of the session's project.
func (m *Manager) ActivateSession(ctx context.Context, s *registry.Session) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	keys := make([]Key, 0)
	for key := range m.tunnels {
		if key.Project == s.Project {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()
	sortKeys(keys)

	var errs []error
	for _, key := range keys {
		if err := m.activate(ctx, key, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// DeactivateSession deactivates every tunnel bound to s. Configuration is
// kept so the tunnels come back when the project reconnects.
func (m *Manager) DeactivateSession(s *registry.Session) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	var bound []*entry
	for _, e := range m.tunnels {
		if e.session == s {
			bound = append(bound, e)
		}
	}
	m.mu.Unlock()

	for _, e := range bound {
		m.deactivate(e)
	}
}

func (m *Manager) activate(ctx context.Context, key Key, s *registry.Session) error {
	m.mu.Lock()
	e, ok := m.tunnels[key]
	if !ok {
		m.mu.Unlock()
		return boxerrors.ValidationError("unknown port tunnel " + key.String())
	}
	if e.State == StateActive && e.session == s {
		m.mu.Unlock()
		return nil
	}
	stale := e.State == StateActive
	m.mu.Unlock()
	if stale {
		m.deactivate(e)
	}

	m.mu.Lock()
	for _, other := range m.tunnels {
		if other != e && other.State == StateActive && other.HostPort == e.HostPort {
			e.Error = fmt.Sprintf("host port %d is used by %s", e.HostPort, other.Key())
			m.mu.Unlock()
			return m.activationFailed(e, s, boxerrors.PortInUse(e.HostPort, other.Project))
		}
	}
	t := e.Tunnel
	m.mu.Unlock()

	transport, ok := s.Conn().(Transport)
	if !ok {
		return m.activationFailed(e, s, fmt.Errorf("session %s cannot carry port streams", s.Identity))
	}
	if !m.reg.IsActive(s) {
		return boxerrors.SessionNotFound(s.Identity)
	}

	var ln net.Listener
	switch t.Direction {
	case Expose:
		var err error
		ln, err = m.listen("tcp", t.HostAddr())
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) {
				err = boxerrors.PortInUse(t.HostPort, "")
			}
			return m.activationFailed(e, s, err)
		}
	case Forward:
		err := transport.Send(tunnel.TypeForwardListen, tunnel.ForwardListen{
			ContainerPort: t.ContainerPort,
			HostPort:      t.HostPort,
			Bind:          t.Bind,
		})
		if err != nil {
			return m.activationFailed(e, s, err)
		}
	}

	m.mu.Lock()
	e.State = StateActive
	e.session = s
	e.listener = ln
	e.Error = ""
	m.mu.Unlock()

	if ln != nil {
		go m.acceptLoop(ln, t, s, transport)
	}
	m.log.Info("port tunnel active", "tunnel", key.String(), "identity", s.Identity)
	m.app.Audit.LogEvent(audit.EventPortActivate, s.Identity, key.String())
	return nil
}

func (m *Manager) activationFailed(e *entry, s *registry.Session, err error) error {
	m.mu.Lock()
	e.Error = err.Error()
	key := e.Key()
	m.mu.Unlock()

	m.log.Warn("port tunnel activation failed", "tunnel", key.String(), "error", err)
	m.app.Audit.LogEvent(audit.EventPortError, s.Identity, key.String()+": "+err.Error())
	return err
}

func (m *Manager) deactivate(e *entry) {
	m.mu.Lock()
	if e.State != StateActive {
		m.mu.Unlock()
		return
	}
	s, ln := e.session, e.listener
	e.State = StateConfigured
	e.session = nil
	e.listener = nil
	t := e.Tunnel
	m.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if t.Direction == Forward && m.reg.IsActive(s) {
		if transport, ok := s.Conn().(Transport); ok {
			err := transport.Send(tunnel.TypeForwardClose, tunnel.ForwardListen{
				ContainerPort: t.ContainerPort,
				HostPort:      t.HostPort,
			})
			if err != nil {
				m.log.Debug("failed to send forward_close", "tunnel", t.Key().String(), "error", err)
			}
		}
	}
	m.log.Info("port tunnel inactive", "tunnel", t.Key().String())
	m.app.Audit.LogEvent(audit.EventPortDeactivate, s.Identity, t.Key().String())
}

// List returns the tunnels of project, or of every project when project
// is empty, sorted by project, direction and host port.
func (m *Manager) List(project string) []Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Tunnel
	for _, t := range m.snapshotLocked() {
		if project == "" || t.Project == project {
			out = append(out, t)
		}
	}
	return out
}

// Get returns one tunnel.
func (m *Manager) Get(key Key) (Tunnel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tunnels[key]
	if !ok {
		return Tunnel{}, false
	}
	return m.viewLocked(e), true
}

// Close deactivates every tunnel.
func (m *Manager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	entries := make([]*entry, 0, len(m.tunnels))
	for _, e := range m.tunnels {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.deactivate(e)
	}
}

func (m *Manager) get(key Key) Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tunnels[key]; ok {
		return m.viewLocked(e)
	}
	return Tunnel{}
}

func (m *Manager) viewLocked(e *entry) Tunnel {
	t := e.Tunnel
	if e.session != nil {
		t.Session = e.session.Identity
	}
	return t
}

func (m *Manager) snapshotLocked() []Tunnel {
	out := make([]Tunnel, 0, len(m.tunnels))
	for _, e := range m.tunnels {
		out = append(out, m.viewLocked(e))
	}
	sortTunnels(out)
	return out
}

func (m *Manager) projectLocked(project string) []Tunnel {
	var out []Tunnel
	for _, t := range m.snapshotLocked() {
		if t.Project == project {
			out = append(out, t)
		}
	}
	return out
}

func sortTunnels(ts []Tunnel) {
	sort.Slice(ts, func(i, j int) bool {
		return keyLess(ts[i].Key(), ts[j].Key())
	})
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keyLess(keys[i], keys[j])
	})
}

func keyLess(a, b Key) bool {
	if a.Project != b.Project {
		return a.Project < b.Project
	}
	if a.Direction != b.Direction {
		return a.Direction < b.Direction
	}
	return a.HostPort < b.HostPort
}

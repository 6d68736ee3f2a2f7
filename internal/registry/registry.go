package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/logging"
)

// State is the lifecycle state of a session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the transport of a session.
type Conn interface {
	Close() error

	// LastSeen reports when the peer last sent anything, pings included.
	LastSeen() time.Time
}

// StreamInfo describes a logical stream owned by a session.
type StreamInfo struct {
	ID     uint32    `json:"id"`
	Kind   string    `json:"kind"`
	Label  string    `json:"label,omitempty"`
	Opened time.Time `json:"opened"`
}

// Session is one container's connection. Identity, Project and ID never
// change; everything else is guarded by the registry lock.
type Session struct {
	ID       string
	Identity string
	Project  string

	conn      Conn
	createdAt time.Time
	done      chan struct{}

	state          State
	lastActivity   time.Time
	disconnectedAt time.Time
	reason         string
	stalled        bool
	streams        map[uint32]StreamInfo
}

// Conn returns the session transport.
func (s *Session) Conn() Conn {
	return s.conn
}

// Done is closed when the session is disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Summary is a point-in-time view of a session for listings.
type Summary struct {
	ID             string       `json:"id"`
	Identity       string       `json:"identity"`
	Project        string       `json:"project,omitempty"`
	State          State        `json:"-"`
	StateName      string       `json:"state"`
	ConnectedAt    time.Time    `json:"connected_at"`
	LastActivity   time.Time    `json:"last_activity"`
	LastSeen       time.Time    `json:"last_seen"`
	DisconnectedAt time.Time    `json:"disconnected_at,omitzero"`
	Reason         string       `json:"reason,omitempty"`
	Stalled        bool         `json:"stalled"`
	Streams        []StreamInfo `json:"streams,omitempty"`
}

// Listener is called after a session changes state, outside the lock.
type Listener func(s *Session)

// Registry is the authoritative set of container sessions. One coarse
// lock guards all metadata; no I/O happens under it.
type Registry struct {
	app *app.App
	log *slog.Logger

	mu           sync.Mutex
	sessions     map[string]*Session
	onActivate   []Listener
	onDisconnect []Listener
}

// New creates an empty registry.
func New(a *app.App) *Registry {
	return &Registry{
		app:      a,
		log:      logging.With("component", "registry"),
		sessions: make(map[string]*Session),
	}
}

// OnActivate registers fn to run whenever a session becomes active.
func (r *Registry) OnActivate(fn Listener) {
	r.mu.Lock()
	r.onActivate = append(r.onActivate, fn)
	r.mu.Unlock()
}

// OnDisconnect registers fn to run whenever a session is disconnected.
func (r *Registry) OnDisconnect(fn Listener) {
	r.mu.Lock()
	r.onDisconnect = append(r.onDisconnect, fn)
	r.mu.Unlock()
}

// Register records a new connection in the Connecting state. An existing
// live session for the same identity is superseded: it is disconnected and
// the new connection takes its place.
func (r *Registry) Register(identity, project string, conn Conn) (*Session, error) {
	if identity == "" {
		return nil, boxerrors.ValidationError("session identity is required")
	}
	if conn == nil {
		return nil, boxerrors.ValidationError("session transport is required")
	}

	now := r.app.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Identity:     identity,
		Project:      project,
		conn:         conn,
		createdAt:    now,
		done:         make(chan struct{}),
		state:        StateConnecting,
		lastActivity: now,
		streams:      make(map[uint32]StreamInfo),
	}

	r.mu.Lock()
	old := r.sessions[identity]
	r.sessions[identity] = s
	r.mu.Unlock()

	if old != nil && r.disconnect(old, "superseded") {
		r.log.Info("session superseded", "identity", identity, "error", boxerrors.DuplicateSession(identity))
		r.app.Audit.LogEvent(audit.EventSuperseded, identity, "session "+old.ID)
	}
	return s, nil
}

// Activate moves a Connecting session to Active once its handshake is done.
func (r *Registry) Activate(s *Session) error {
	r.mu.Lock()
	if r.sessions[s.Identity] != s || s.state != StateConnecting {
		r.mu.Unlock()
		return boxerrors.SessionNotFound(s.Identity)
	}
	s.state = StateActive
	s.lastActivity = r.app.Now()
	listeners := append([]Listener(nil), r.onActivate...)
	r.mu.Unlock()

	r.log.Info("session active", "identity", s.Identity, "project", s.Project, "session", s.ID)
	r.app.Audit.LogEvent(audit.EventConnect, s.Identity, "project="+s.Project)
	for _, fn := range listeners {
		fn(s)
	}
	return nil
}

// Disconnect moves s to Disconnected, closes its transport and notifies
// listeners. Calling it again is a no-op.
func (r *Registry) Disconnect(s *Session, reason string) {
	r.disconnect(s, reason)
}

func (r *Registry) disconnect(s *Session, reason string) bool {
	r.mu.Lock()
	if s.state == StateDisconnected {
		r.mu.Unlock()
		return false
	}
	wasActive := s.state == StateActive
	s.state = StateDisconnected
	s.disconnectedAt = r.app.Now()
	s.reason = reason
	s.stalled = false
	s.streams = make(map[uint32]StreamInfo)
	close(s.done)
	listeners := append([]Listener(nil), r.onDisconnect...)
	r.mu.Unlock()

	s.conn.Close()
	r.log.Info("session disconnected", "identity", s.Identity, "session", s.ID, "reason", reason)
	r.app.Audit.LogEvent(audit.EventDisconnect, s.Identity, reason)
	if wasActive {
		for _, fn := range listeners {
			fn(s)
		}
	}
	return true
}

// Lookup returns the active session of identity.
func (r *Registry) Lookup(identity string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[identity]
	if s == nil || s.state != StateActive {
		return nil, boxerrors.SessionNotFound(identity)
	}
	return s, nil
}

// LookupProject returns the most recently connected active session of a
// project.
func (r *Registry) LookupProject(project string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Session
	for _, s := range r.sessions {
		if s.Project != project || s.state != StateActive {
			continue
		}
		if found == nil || s.createdAt.After(found.createdAt) {
			found = s
		}
	}
	if found == nil {
		return nil, boxerrors.SessionNotFound("project " + project)
	}
	return found, nil
}

// IsActive reports whether s is still the live session of its identity.
func (r *Registry) IsActive(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.state == StateActive && r.sessions[s.Identity] == s
}

// List returns summaries of every known session, retained disconnected
// ones included, sorted by identity.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	summaries := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
		summaries = append(summaries, r.summaryLocked(s))
	}
	r.mu.Unlock()

	// LastSeen reads an atomic on the transport; keep it outside the lock.
	for i, s := range sessions {
		summaries[i].LastSeen = s.conn.LastSeen()
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Identity < summaries[j].Identity
	})
	return summaries
}

// Get returns the summary of one session, whatever its state.
func (r *Registry) Get(identity string) (Summary, error) {
	r.mu.Lock()
	s := r.sessions[identity]
	if s == nil {
		r.mu.Unlock()
		return Summary{}, boxerrors.SessionNotFound(identity)
	}
	sum := r.summaryLocked(s)
	r.mu.Unlock()

	sum.LastSeen = s.conn.LastSeen()
	return sum, nil
}

func (r *Registry) summaryLocked(s *Session) Summary {
	streams := make([]StreamInfo, 0, len(s.streams))
	for _, info := range s.streams {
		streams = append(streams, info)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].ID < streams[j].ID })
	return Summary{
		ID:             s.ID,
		Identity:       s.Identity,
		Project:        s.Project,
		State:          s.state,
		StateName:      s.state.String(),
		ConnectedAt:    s.createdAt,
		LastActivity:   s.lastActivity,
		DisconnectedAt: s.disconnectedAt,
		Reason:         s.reason,
		Stalled:        s.stalled,
		Streams:        streams,
	}
}

// Heartbeat records agent activity for identity and clears its stalled
// flag. It reports whether the session was stalled.
func (r *Registry) Heartbeat(identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[identity]
	if s == nil || s.state != StateActive {
		return false, boxerrors.SessionNotFound(identity)
	}
	s.lastActivity = r.app.Now()
	wasStalled := s.stalled
	s.stalled = false
	return wasStalled, nil
}

// MarkStalled flags identity as stalled. It reports whether the flag
// changed.
func (r *Registry) MarkStalled(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[identity]
	if s == nil || s.state != StateActive || s.stalled {
		return false
	}
	s.stalled = true
	return true
}

// AddStream records a stream owned by the session of identity.
func (r *Registry) AddStream(identity string, info StreamInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[identity]
	if s == nil || s.state != StateActive {
		return boxerrors.SessionNotFound(identity)
	}
	if info.Opened.IsZero() {
		info.Opened = r.app.Now()
	}
	s.streams[info.ID] = info
	return nil
}

// RemoveStream forgets a stream.
func (r *Registry) RemoveStream(identity string, id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[identity]; s != nil {
		delete(s.streams, id)
	}
}

// Sweep disconnects active sessions whose transport has been silent for
// longer than the heartbeat timeout and purges disconnected entries older
// than the retention period. It returns the number of purged entries.
func (r *Registry) Sweep() int {
	cfg := r.app.HostConfig().Daemon
	now := r.app.Now()

	r.mu.Lock()
	var silent []*Session
	purged := 0
	for identity, s := range r.sessions {
		switch s.state {
		case StateActive:
			if cfg.HeartbeatTimeout > 0 && now.Sub(s.conn.LastSeen()) > cfg.HeartbeatTimeout {
				silent = append(silent, s)
			}
		case StateDisconnected:
			if now.Sub(s.disconnectedAt) >= cfg.SessionRetention {
				delete(r.sessions, identity)
				purged++
			}
		}
	}
	r.mu.Unlock()

	for _, s := range silent {
		r.disconnect(s, "heartbeat timeout")
	}
	if purged > 0 {
		r.log.Debug("purged sessions", "count", purged)
	}
	return purged
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close disconnects every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	var live []*Session
	for _, s := range r.sessions {
		if s.state != StateDisconnected {
			live = append(live, s)
		}
	}
	r.mu.Unlock()

	for _, s := range live {
		r.disconnect(s, "daemon shutdown")
	}
}

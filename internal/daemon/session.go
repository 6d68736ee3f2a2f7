package daemon

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/config"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
	"github.com/scharc/boxctl/internal/registry"
	"github.com/scharc/boxctl/internal/tunnel"
)

// serveConn runs one container connection from handshake to disconnect.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	hello, err := tunnel.ReadHello(conn, tunnel.DefaultHandshakeTimeout)
	if err != nil {
		d.reject(conn, hello.Identity, err.Error())
		return
	}

	cfg := d.app.HostConfig().Daemon
	if cfg.Token != "" && subtle.ConstantTimeCompare([]byte(hello.Token), []byte(cfg.Token)) != 1 {
		d.reject(conn, hello.Identity, "invalid token")
		return
	}

	project := hello.Project
	if project == "" {
		project = strings.TrimPrefix(hello.Identity, config.ContainerPrefix)
	}
	if err := config.ValidateProjectName(project); err != nil {
		d.reject(conn, hello.Identity, err.Error())
		return
	}
	if hello.ProjectDir != "" {
		if r, ok := d.store.(ProjectRegistrar); ok {
			if err := r.RegisterProject(project, hello.ProjectDir); err != nil {
				d.log.Warn("failed to record project directory", "project", project, "dir", hello.ProjectDir, "error", err)
			} else if err := d.ports.Load(); err != nil {
				d.log.Warn("failed to reload port tunnels", "project", project, "error", err)
			}
		}
	}

	preferred, err := tunnel.ParseCompressionTag(cfg.Compression)
	if err != nil {
		preferred = tunnel.CompressionNone
	}
	compression := tunnel.NegotiateCompression(hello.Compression, preferred)

	h := &sessionHandler{d: d, ready: make(chan struct{}), log: d.log.With("identity", hello.Identity)}
	mux := tunnel.NewMux(conn, tunnel.Config{
		Role:        tunnel.RoleServer,
		Compression: compression,
		KeepAlive:   tunnel.DefaultKeepAlive,
		OnRequest:   h.request,
		OnEvent:     h.event,
		OnStream:    h.stream,
		Logger:      h.log,
	})

	s, err := d.reg.Register(hello.Identity, project, mux)
	if err != nil {
		d.reject(conn, hello.Identity, err.Error())
		return
	}
	h.session = s

	welcome := tunnel.Welcome{OK: true, SessionID: s.ID, Compression: compression.String()}
	if err := tunnel.WriteWelcome(conn, welcome, tunnel.DefaultHandshakeTimeout); err != nil {
		d.reg.Disconnect(s, "handshake failed")
		return
	}

	done := make(chan error, 1)
	go func() { done <- mux.Run(ctx) }()

	if err := d.reg.Activate(s); err != nil {
		mux.Close()
	}
	close(h.ready)

	reason := "connection closed"
	if err := <-done; err != nil && !errors.Is(err, io.EOF) {
		reason = err.Error()
	}
	d.reg.Disconnect(s, reason)
}

func (d *Daemon) reject(conn net.Conn, identity, reason string) {
	d.log.Warn("tunnel handshake rejected", "identity", identity, "remote", conn.RemoteAddr().String(), "reason", reason)
	tunnel.WriteWelcome(conn, tunnel.Welcome{Error: reason}, tunnel.DefaultHandshakeTimeout)
	conn.Close()
}

// sessionHandler answers the control traffic of one session. session is
// set before the mux starts reading; ready is closed once the session has
// been activated.
type sessionHandler struct {
	d       *Daemon
	session *registry.Session
	ready   chan struct{}
	log     *slog.Logger
}

func (h *sessionHandler) request(ctx context.Context, msg tunnel.Message) (any, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s := h.session
	if !h.d.reg.IsActive(s) {
		return nil, boxerrors.SessionNotFound(s.Identity)
	}

	switch msg.Type {
	case tunnel.TypeNotify:
		var req tunnel.NotifyRequest
		if err := msg.Decode(&req); err != nil {
			return nil, boxerrors.ValidationError(err.Error())
		}
		n, err := h.d.notifier.Dispatch(ctx, notify.Request{
			Identity: s.Identity,
			Project:  s.Project,
			Title:    req.Title,
			Message:  req.Message,
			Urgency:  notify.Urgency(req.Urgency),
			Source:   notify.SourceRequest,
			Metadata: req.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return tunnel.NotifyResult{ID: n.ID, Delivered: n.Delivered, Suppressed: n.Suppressed}, nil

	case tunnel.TypePortActivate:
		t, err := h.portTunnel(msg)
		if err != nil {
			return nil, err
		}
		t, err = h.d.ports.Add(ctx, t)
		if err != nil {
			return nil, err
		}
		if t.State != port.StateActive {
			if err := h.d.ports.Activate(ctx, t.Key()); err != nil {
				return nil, err
			}
			t, _ = h.d.ports.Get(t.Key())
		}
		return portStatus(t), nil

	case tunnel.TypePortDeactivate:
		t, err := h.portTunnel(msg)
		if err != nil {
			return nil, err
		}
		removed, err := h.d.ports.Remove(t.Key())
		if err != nil {
			return nil, err
		}
		return portStatus(removed), nil

	case tunnel.TypePortList:
		tunnels := h.d.ports.List(s.Project)
		out := make([]tunnel.PortStatus, 0, len(tunnels))
		for _, t := range tunnels {
			out = append(out, portStatus(t))
		}
		return out, nil

	case tunnel.TypeSessionResumed:
		wasStalled, err := h.d.reg.Heartbeat(s.Identity)
		if err != nil {
			return nil, err
		}
		h.d.app.Audit.LogEvent(audit.EventResume, s.Identity, "resumed by container")
		if wasStalled {
			h.pushActive()
		}
		return tunnel.SessionState{State: registry.StateActive.String()}, nil

	default:
		return nil, boxerrors.ValidationError("unsupported request " + msg.Type)
	}
}

// pushActive tells the client its session is no longer stalled.
func (h *sessionHandler) pushActive() {
	if mux, ok := h.session.Conn().(*tunnel.Mux); ok {
		go mux.Send(tunnel.TypeSessionState, tunnel.SessionState{State: registry.StateActive.String()})
	}
}

func (h *sessionHandler) portTunnel(msg tunnel.Message) (port.Tunnel, error) {
	var req tunnel.PortRequest
	if err := msg.Decode(&req); err != nil {
		return port.Tunnel{}, boxerrors.ValidationError(err.Error())
	}
	dir, err := port.ParseDirection(req.Direction)
	if err != nil {
		return port.Tunnel{}, err
	}
	t := port.Tunnel{
		Project:       h.session.Project,
		Direction:     dir,
		ContainerPort: req.ContainerPort,
		HostPort:      req.HostPort,
		Bind:          req.Bind,
	}
	if err := t.Normalize(); err != nil {
		return port.Tunnel{}, err
	}
	return t, nil
}

func portStatus(t port.Tunnel) tunnel.PortStatus {
	return tunnel.PortStatus{
		Project:       t.Project,
		Direction:     string(t.Direction),
		ContainerPort: t.ContainerPort,
		HostPort:      t.HostPort,
		Bind:          t.Bind,
		State:         string(t.State),
	}
}

// event runs on the read loop and must not block.
func (h *sessionHandler) event(msg tunnel.Message) {
	switch msg.Type {
	case tunnel.TypeHeartbeat:
		wasStalled, err := h.d.reg.Heartbeat(h.session.Identity)
		if err != nil {
			return
		}
		if wasStalled {
			h.log.Info("session active again")
			go h.d.app.Audit.LogEvent(audit.EventResume, h.session.Identity, "activity")
			h.pushActive()
		}
	default:
		h.log.Debug("ignoring control event", "type", msg.Type)
	}
}

func (h *sessionHandler) stream(st *tunnel.Stream) {
	<-h.ready
	s := h.session
	switch st.Request().Kind {
	case tunnel.StreamTerminal:
		h.d.serveTerminal(s, st)
	case tunnel.StreamForward:
		h.d.ports.HandleForwardStream(s, st)
	default:
		st.Reject("unsupported stream kind " + st.Request().Kind)
	}
}

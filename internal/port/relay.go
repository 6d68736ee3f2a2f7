package port

import (
	"context"
	"fmt"
	"net"

	"github.com/scharc/boxctl/internal/registry"
	"github.com/scharc/boxctl/internal/tunnel"
)

func (m *Manager) acceptLoop(ln net.Listener, t Tunnel, s *registry.Session, transport Transport) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go m.serveExpose(conn, t, s, transport)
	}
}

// serveExpose pairs one accepted host connection with a new stream to the
// container port.
func (m *Manager) serveExpose(conn net.Conn, t Tunnel, s *registry.Session, transport Transport) {
	if !m.reg.IsActive(s) {
		conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	stream, err := transport.OpenStream(ctx, tunnel.OpenRequest{
		Kind:          tunnel.StreamExpose,
		ContainerPort: t.ContainerPort,
		HostPort:      t.HostPort,
	})
	cancel()
	if err != nil {
		m.log.Debug("failed to open expose stream", "tunnel", t.Key().String(), "error", err)
		conn.Close()
		return
	}

	m.relay(conn, stream, s, fmt.Sprintf("%d->%d", t.HostPort, t.ContainerPort))
}

// HandleForwardStream serves a forward stream opened by the container: it
// dials the host service of the matching active tunnel and relays.
func (m *Manager) HandleForwardStream(s *registry.Session, stream *tunnel.Stream) {
	req := stream.Request()
	key := Key{Project: s.Project, Direction: Forward, HostPort: req.HostPort}

	m.mu.Lock()
	e := m.tunnels[key]
	armed := e != nil && e.State == StateActive && e.session == s
	var addr string
	if armed {
		addr = e.HostAddr()
	}
	m.mu.Unlock()

	if !armed || !m.reg.IsActive(s) {
		stream.Reject(fmt.Sprintf("forward tunnel for host port %d is not active", req.HostPort))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := m.dial(ctx, "tcp", addr)
	cancel()
	if err != nil {
		stream.Reject(err.Error())
		return
	}

	m.relay(conn, stream, s, fmt.Sprintf("%d<-%d", req.ContainerPort, req.HostPort))
}

func (m *Manager) relay(conn net.Conn, stream *tunnel.Stream, s *registry.Session, label string) {
	kind := stream.Request().Kind
	if err := m.reg.AddStream(s.Identity, registry.StreamInfo{ID: stream.ID(), Kind: kind, Label: label}); err != nil {
		conn.Close()
		stream.Close()
		return
	}
	defer m.reg.RemoveStream(s.Identity, stream.ID())

	in, out := tunnel.Relay(conn, stream)
	m.log.Debug("port connection closed", "identity", s.Identity, "kind", kind, "port", label, "bytes_in", in, "bytes_out", out)
}

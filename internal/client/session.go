package client

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/scharc/boxctl/internal/tunnel"
)

// session holds the per-connection state of the client.
type session struct {
	c   *Client
	ctx context.Context
	mux *tunnel.Mux
	log *slog.Logger

	mu       sync.Mutex
	forwards map[int]net.Listener
}

// event runs on the mux read loop and must not block.
func (s *session) event(msg tunnel.Message) {
	switch msg.Type {
	case tunnel.TypeForwardListen:
		var req tunnel.ForwardListen
		if err := msg.Decode(&req); err != nil {
			s.log.Warn("invalid forward_listen", "error", err)
			return
		}
		s.startForward(req)
	case tunnel.TypeForwardClose:
		var req tunnel.ForwardListen
		if err := msg.Decode(&req); err != nil {
			s.log.Warn("invalid forward_close", "error", err)
			return
		}
		s.stopForward(req.HostPort)
	case tunnel.TypeSessionState:
		var st tunnel.SessionState
		if err := msg.Decode(&st); err != nil {
			return
		}
		s.log.Info("session state changed", "state", st.State, "stalled", st.Stalled)
		if s.c.onState != nil {
			s.c.onState(st)
		}
	default:
		s.log.Debug("ignoring control event", "type", msg.Type)
	}
}

// stream serves streams opened by the daemon. Only expose streams flow in
// this direction.
func (s *session) stream(st *tunnel.Stream) {
	req := st.Request()
	if req.Kind != tunnel.StreamExpose {
		st.Reject("unsupported stream kind " + req.Kind)
		return
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(req.ContainerPort))
	ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
	conn, err := s.c.dialLocal(ctx, "tcp", addr)
	cancel()
	if err != nil {
		st.Reject(err.Error())
		return
	}
	in, out := tunnel.Relay(conn, st)
	s.log.Debug("expose connection closed", "port", req.ContainerPort, "bytes_in", in, "bytes_out", out)
}

// startForward listens on the container port of a forward tunnel and
// carries each accepted connection to the host over a new stream.
func (s *session) startForward(req tunnel.ForwardListen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forwards[req.HostPort]; ok {
		return
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(req.ContainerPort))
	ln, err := s.c.listen("tcp", addr)
	if err != nil {
		s.log.Warn("cannot listen for forward tunnel", "addr", addr, "host_port", req.HostPort, "error", err)
		return
	}
	s.forwards[req.HostPort] = ln
	s.log.Info("forward tunnel listening", "addr", addr, "host_port", req.HostPort)
	go s.acceptForward(ln, req)
}

func (s *session) acceptForward(ln net.Listener, req tunnel.ForwardListen) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			st, err := s.mux.OpenStream(s.ctx, tunnel.OpenRequest{
				Kind:          tunnel.StreamForward,
				ContainerPort: req.ContainerPort,
				HostPort:      req.HostPort,
			})
			if err != nil {
				s.log.Debug("failed to open forward stream", "host_port", req.HostPort, "error", err)
				conn.Close()
				return
			}
			in, out := tunnel.Relay(conn, st)
			s.log.Debug("forward connection closed", "host_port", req.HostPort, "bytes_in", in, "bytes_out", out)
		}()
	}
}

func (s *session) stopForward(hostPort int) {
	s.mu.Lock()
	ln, ok := s.forwards[hostPort]
	delete(s.forwards, hostPort)
	s.mu.Unlock()
	if ok {
		ln.Close()
		s.log.Info("forward tunnel closed", "host_port", hostPort)
	}
}

func (s *session) closeForwards() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for port, ln := range s.forwards {
		ln.Close()
		delete(s.forwards, port)
	}
}


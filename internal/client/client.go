package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scharc/boxctl/internal/config"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/multiplexer"
	"github.com/scharc/boxctl/internal/syncloop"
	"github.com/scharc/boxctl/internal/tunnel"
)

const (
	DefaultMinBackoff   = time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultPollInterval = time.Second

	dialTimeout = 5 * time.Second
)

// Client maintains the tunnel session of one container.
type Client struct {
	settings config.ClientSettings
	log      *slog.Logger

	dial      func(ctx context.Context) (net.Conn, error)
	dialLocal func(ctx context.Context, network, address string) (net.Conn, error)
	listen    func(network, address string) (net.Listener, error)

	term         multiplexer.Multiplexer
	pollInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	sync         *syncloop.Runner
	onState      func(tunnel.SessionState)

	mu      sync.Mutex
	current *tunnel.Mux
	changed chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces how the tunnel connection is established.
func WithDialer(fn func(ctx context.Context) (net.Conn, error)) Option {
	return func(c *Client) {
		c.dial = fn
	}
}

// WithLocalDialFunc replaces how expose streams reach container ports.
func WithLocalDialFunc(fn func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(c *Client) {
		c.dialLocal = fn
	}
}

// WithListenFunc replaces how forward tunnels listen inside the container.
func WithListenFunc(fn func(network, address string) (net.Listener, error)) Option {
	return func(c *Client) {
		c.listen = fn
	}
}

// WithMultiplexer enables terminal streaming from m.
func WithMultiplexer(m multiplexer.Multiplexer, interval time.Duration) Option {
	return func(c *Client) {
		c.term = m
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = initial
		c.maxBackoff = limit
	}
}

// WithSyncRunner runs the agent config sync alongside the tunnel.
func WithSyncRunner(r *syncloop.Runner) Option {
	return func(c *Client) {
		c.sync = r
	}
}

// WithStateHook is called with every session_state the daemon pushes.
func WithStateHook(fn func(tunnel.SessionState)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// New creates a Client for settings.
func New(settings config.ClientSettings, opts ...Option) *Client {
	c := &Client{
		settings:     settings,
		log:          logging.With("component", "client", "identity", settings.Identity),
		listen:       net.Listen,
		pollInterval: DefaultPollInterval,
		minBackoff:   DefaultMinBackoff,
		maxBackoff:   DefaultMaxBackoff,
		changed:      make(chan struct{}),
	}
	var d net.Dialer
	c.dialLocal = d.DialContext
	c.dial = func(ctx context.Context) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		if settings.Address != "" {
			return d.DialContext(ctx, "tcp", settings.Address)
		}
		return d.DialContext(ctx, "unix", settings.Socket)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run keeps the tunnel connected, serves the local socket and runs the
// config sync until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.connectLoop(ctx)
		return nil
	})
	if c.settings.NotifySocket != "" {
		ln, err := listenLocal(c.settings.NotifySocket)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return c.ServeLocal(ctx, ln)
		})
	}
	if c.sync != nil {
		g.Go(func() error {
			if err := c.sync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// connectLoop reconnects with capped exponential backoff. The delay is
// reset once a session stayed up longer than the maximum delay.
func (c *Client) connectLoop(ctx context.Context) {
	backoff := c.minBackoff
	for {
		started := time.Now()
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > c.maxBackoff {
			backoff = c.minBackoff
		}

		var rejected *tunnel.RejectedError
		if errors.As(err, &rejected) {
			c.log.Error("daemon rejected session", "reason", rejected.Reason, "retry_in", backoff)
		} else {
			c.log.Warn("tunnel disconnected", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *Client) runSession(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return boxerrors.DaemonUnavailable(err)
	}

	welcome, err := tunnel.ClientHandshake(conn, tunnel.Hello{
		Identity:    c.settings.Identity,
		Project:     c.settings.Project,
		ProjectDir:  c.settings.ProjectDir,
		Token:       c.settings.Token,
		Compression: tunnel.SupportedCompression(),
	}, tunnel.DefaultHandshakeTimeout)
	if err != nil {
		conn.Close()
		return err
	}
	tag, err := tunnel.ParseCompressionTag(welcome.Compression)
	if err != nil {
		conn.Close()
		return fmt.Errorf("negotiate compression: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		c:        c,
		ctx:      ctx,
		forwards: make(map[int]net.Listener),
		log:      c.log.With("session", welcome.SessionID),
	}
	mux := tunnel.NewMux(conn, tunnel.Config{
		Role:        tunnel.RoleClient,
		Compression: tag,
		KeepAlive:   tunnel.DefaultKeepAlive,
		IdleTimeout: 3 * tunnel.DefaultKeepAlive,
		OnEvent:     s.event,
		OnStream:    s.stream,
		Logger:      s.log,
	})
	s.mux = mux
	defer s.closeForwards()

	c.setCurrent(mux)
	defer c.clearCurrent(mux)

	if c.term != nil {
		go s.watchTerminals(ctx)
	}

	s.log.Info("connected to daemon", "compression", tag.String())
	return mux.Run(ctx)
}

func (c *Client) setCurrent(m *tunnel.Mux) {
	c.mu.Lock()
	c.current = m
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

func (c *Client) clearCurrent(m *tunnel.Mux) {
	c.mu.Lock()
	if c.current == m {
		c.current = nil
	}
	c.mu.Unlock()
}

// Connected reports whether a tunnel session is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// WaitConnected blocks until a tunnel session is up or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		cur, changed := c.current, c.changed
		c.mu.Unlock()
		if cur != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// request sends a control request over the current session.
func (c *Client) request(ctx context.Context, typ string, payload, out any) error {
	c.mu.Lock()
	m := c.current
	c.mu.Unlock()
	if m == nil {
		return boxerrors.DaemonUnavailable(errors.New("tunnel is not connected"))
	}
	return m.Request(ctx, typ, payload, out)
}

// Notify asks the daemon to alert the user.
func (c *Client) Notify(ctx context.Context, req tunnel.NotifyRequest) (tunnel.NotifyResult, error) {
	var res tunnel.NotifyResult
	err := c.request(ctx, tunnel.TypeNotify, req, &res)
	return res, err
}

// Resume tells the daemon the agent is working again.
func (c *Client) Resume(ctx context.Context) (tunnel.SessionState, error) {
	var res tunnel.SessionState
	err := c.request(ctx, tunnel.TypeSessionResumed, nil, &res)
	return res, err
}

// ActivatePort configures and activates a port tunnel of this project.
func (c *Client) ActivatePort(ctx context.Context, req tunnel.PortRequest) (tunnel.PortStatus, error) {
	var res tunnel.PortStatus
	err := c.request(ctx, tunnel.TypePortActivate, req, &res)
	return res, err
}

// DeactivatePort removes a port tunnel of this project.
func (c *Client) DeactivatePort(ctx context.Context, req tunnel.PortRequest) (tunnel.PortStatus, error) {
	var res tunnel.PortStatus
	err := c.request(ctx, tunnel.TypePortDeactivate, req, &res)
	return res, err
}

// Ports lists the port tunnels of this project.
func (c *Client) Ports(ctx context.Context) ([]tunnel.PortStatus, error) {
	var res []tunnel.PortStatus
	err := c.request(ctx, tunnel.TypePortList, nil, &res)
	return res, err
}

package integration

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/client"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/daemon"
	"github.com/scharc/boxctl/internal/notify"
)

// Token is the handshake token the harness daemon requires.
const Token = "integration-token"

// Harness is a running daemon with helpers to attach clients.
type Harness struct {
	t      *testing.T
	dir    string
	ctx    context.Context
	cancel context.CancelFunc

	Paths  *config.Paths
	App    *app.App
	Daemon *daemon.Daemon
	API    *daemon.APIClient
	Sink   *RecordingSink

	wg   sync.WaitGroup
	done chan error
}

// NewHarness starts a daemon in a temporary directory. mutate, when not
// nil, adjusts the host config before the daemon starts. The test is
// skipped in -short mode.
func NewHarness(t *testing.T, mutate ...func(*config.HostConfig)) *Harness {
	t.Helper()

	if testing.Short() {
		t.Skip("integration tests skipped in -short mode")
	}

	dir, err := os.MkdirTemp("", "boxctl-it")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	paths := &config.Paths{
		ConfigDir:  filepath.Join(dir, "config"),
		StateDir:   filepath.Join(dir, "state"),
		RuntimeDir: filepath.Join(dir, "run"),
	}
	for _, d := range []string{paths.ConfigDir, paths.StateDir, paths.RuntimeDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", d, err)
		}
	}

	cfg := config.DefaultHostConfig()
	cfg.Daemon.Token = Token
	cfg.Daemon.Compression = "zstd"
	for _, fn := range mutate {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid host config: %v", err)
	}

	a := app.New(
		app.WithPaths(paths),
		app.WithHostConfig(cfg),
		app.WithAudit(audit.NewLogger(paths.EventsDir())),
	)

	sink := &RecordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		t:      t,
		dir:    dir,
		ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		App:    a,
		Daemon: daemon.New(a, daemon.WithNotifyOptions(notify.WithDesktopSink(sink))),
		API:    daemon.NewAPIClient(cfg.ControlSocket(paths)),
		Sink:   sink,
		done:   make(chan error, 1),
	}
	t.Cleanup(h.Cleanup)

	go func() {
		h.done <- h.Daemon.Run(ctx)
	}()
	h.WaitFor("daemon control socket", func() bool {
		_, err := h.API.Sessions(ctx)
		return err == nil
	})
	return h
}

// TunnelSocket is the socket clients connect to.
func (h *Harness) TunnelSocket() string {
	return h.App.HostConfig().TunnelSocket(h.Paths)
}

// Settings returns client settings for a container of project.
func (h *Harness) Settings(identity, project string) config.ClientSettings {
	return config.ClientSettings{
		Socket:       h.TunnelSocket(),
		Identity:     identity,
		Project:      project,
		Token:        Token,
		NotifySocket: filepath.Join(h.dir, identity+".sock"),
	}
}

// Client is a container client started by Connect.
type Client struct {
	*client.Client
	Settings config.ClientSettings
	Local    *client.LocalClient

	cancel context.CancelFunc
	done   chan struct{}
}

// Stop disconnects the client and waits for it to exit.
func (c *Client) Stop() {
	c.cancel()
	<-c.done
}

// Connect starts a client for identity and waits until its session is
// active.
func (h *Harness) Connect(identity, project string, opts ...client.Option) *Client {
	h.t.Helper()
	return h.ConnectWith(h.Settings(identity, project), opts...)
}

// ConnectWith starts a client with explicit settings.
func (h *Harness) ConnectWith(settings config.ClientSettings, opts ...client.Option) *Client {
	h.t.Helper()

	opts = append([]client.Option{client.WithBackoff(20*time.Millisecond, 100*time.Millisecond)}, opts...)
	ctx, cancel := context.WithCancel(h.ctx)
	c := &Client{
		Client:   client.New(settings, opts...),
		Settings: settings,
		Local:    client.NewLocalClient(settings.NotifySocket),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(c.done)
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.t.Logf("client %s stopped: %v", settings.Identity, err)
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer waitCancel()
	if err := c.WaitConnected(waitCtx); err != nil {
		cancel()
		h.t.Fatalf("client %s did not connect: %v", settings.Identity, err)
	}
	h.WaitFor("session "+settings.Identity+" active", func() bool {
		_, err := h.Daemon.Registry().Lookup(settings.Identity)
		return err == nil
	})
	if settings.NotifySocket != "" {
		h.WaitFor("local socket of "+settings.Identity, func() bool {
			_, err := os.Stat(settings.NotifySocket)
			return err == nil
		})
	}
	return c
}

// WaitFor polls cond until it holds or five seconds pass.
func (h *Harness) WaitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

// Cleanup stops every client and the daemon and removes the temporary
// directory.
func (h *Harness) Cleanup() {
	h.cancel()
	h.wg.Wait()
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("daemon stopped with error: %v", err)
		}
	case <-time.After(10 * time.Second):
		h.t.Error("daemon did not stop")
	}
	os.RemoveAll(h.dir)
}

// FreePort returns a TCP port that was free a moment ago.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// RecordingSink stands in for the desktop.
type RecordingSink struct {
	mu        sync.Mutex
	delivered []notify.Notification
}

func (s *RecordingSink) Name() string { return "desktop" }

func (s *RecordingSink) Deliver(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, n)
	return nil
}

// Delivered returns the notifications shown so far.
func (s *RecordingSink) Delivered() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.delivered...)
}

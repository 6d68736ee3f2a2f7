package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/monitor"
	"github.com/scharc/boxctl/internal/notify"
	"github.com/scharc/boxctl/internal/port"
	"github.com/scharc/boxctl/internal/registry"
)

const (
	// sweepInterval is how often the registry applies heartbeat timeouts
	// and purges disconnected sessions.
	sweepInterval = 5 * time.Second

	shutdownTimeout = 5 * time.Second
)

// ProjectRegistrar records the host directory of a project.
type ProjectRegistrar interface {
	RegisterProject(project, dir string) error
}

// Daemon is the host-side server.
type Daemon struct {
	app       *app.App
	reg       *registry.Registry
	ports     *port.Manager
	store     port.Store
	notifier  *notify.Dispatcher
	stall     *monitor.Detector
	terminals *terminalCache
	log       *slog.Logger

	notifyOpts []notify.Option
	portOpts   []port.Option

	wg sync.WaitGroup
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithPortStore replaces the project-config backed port store.
func WithPortStore(s port.Store) Option {
	return func(d *Daemon) {
		d.store = s
	}
}

// WithNotifyOptions passes options to the notification dispatcher.
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(d *Daemon) {
		d.notifyOpts = append(d.notifyOpts, opts...)
	}
}

// WithPortOptions passes options to the port manager.
func WithPortOptions(opts ...port.Option) Option {
	return func(d *Daemon) {
		d.portOpts = append(d.portOpts, opts...)
	}
}

// New wires the registry, port manager, dispatcher and stall detector.
func New(a *app.App, opts ...Option) *Daemon {
	d := &Daemon{
		app:       a,
		terminals: newTerminalCache(),
		log:       logging.With("component", "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.store == nil {
		d.store = port.NewConfigStore(a.FS, a.Paths)
	}

	d.reg = registry.New(a)
	d.ports = port.New(a, d.reg, d.store, d.portOpts...)
	d.ports.Attach()
	d.notifier = notify.NewDispatcher(a, d.notifyOpts...)
	d.stall = monitor.New(a, d.reg, d.notifier, monitor.WithOverrides(d.stallOverride))
	d.reg.OnDisconnect(func(s *registry.Session) {
		d.terminals.drop(s.Identity)
	})
	return d
}

// Registry returns the session registry.
func (d *Daemon) Registry() *registry.Registry { return d.reg }

// Ports returns the port manager.
func (d *Daemon) Ports() *port.Manager { return d.ports }

// Notifier returns the notification dispatcher.
func (d *Daemon) Notifier() *notify.Dispatcher { return d.notifier }

// Run listens on the configured sockets and serves until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.ports.Load(); err != nil {
		return fmt.Errorf("load port tunnels: %w", err)
	}

	cfg := d.app.HostConfig()
	tunnelLn, err := listenUnix(cfg.TunnelSocket(d.app.Paths))
	if err != nil {
		return err
	}
	defer tunnelLn.Close()

	controlLn, err := listenUnix(cfg.ControlSocket(d.app.Paths))
	if err != nil {
		return err
	}
	defer controlLn.Close()

	var tcpLn net.Listener
	if cfg.Daemon.Listen != "" {
		tcpLn, err = net.Listen("tcp", cfg.Daemon.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Daemon.Listen, err)
		}
		defer tcpLn.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d.goRun(func() {
		if err := server.Serve(controlLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("control API stopped", "error", err)
		}
	})
	d.goRun(func() { d.Serve(ctx, tunnelLn) })
	if tcpLn != nil {
		d.goRun(func() { d.Serve(ctx, tcpLn) })
	}
	d.goRun(func() { d.reg.Run(ctx, sweepInterval) })
	d.goRun(func() { d.stall.Run(ctx) })
	d.goRun(func() {
		if err := d.WatchConfig(ctx); err != nil {
			d.log.Warn("host config reload disabled", "error", err)
		}
	})

	d.log.Info("daemon started", "tunnel", tunnelLn.Addr().String(), "control", controlLn.Addr().String())
	<-ctx.Done()
	d.log.Info("daemon stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	server.Shutdown(shutdownCtx)
	tunnelLn.Close()
	if tcpLn != nil {
		tcpLn.Close()
	}
	d.ports.Close()
	d.reg.Close()
	d.wg.Wait()
	return nil
}

func (d *Daemon) goRun(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Serve accepts tunnel connections from ln until it is closed or ctx is
// done.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		d.goRun(func() { d.serveConn(ctx, conn) })
	}
}

// listenUnix listens on path, replacing a stale socket left by a previous
// run.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if c, err := net.DialTimeout("unix", path, time.Second); err == nil {
		c.Close()
		return nil, fmt.Errorf("another daemon is listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return ln, nil
}

// stallOverride reads the stall_detection section of a project's config.
func (d *Daemon) stallOverride(project string) (config.StallOverride, bool) {
	idx, err := config.LoadProjectIndex(d.app.FS, d.app.Paths.ProjectIndexFile())
	if err != nil {
		return config.StallOverride{}, false
	}
	dir, ok := idx.Lookup(project)
	if !ok {
		return config.StallOverride{}, false
	}
	path, err := config.ProjectConfigPath(dir)
	if err != nil {
		return config.StallOverride{}, false
	}
	cfg, err := config.LoadProjectConfig(d.app.FS, path)
	if err != nil || cfg.StallDetection == nil {
		return config.StallOverride{}, false
	}
	return *cfg.StallDetection, true
}

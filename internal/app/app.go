package app

import (
	"sync"
	"time"

	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/system"
)

// App holds the process-scoped dependencies handed to the registry, port
// manager, dispatcher and stall detector.
type App struct {
	// Paths holds the configured paths
	Paths *config.Paths

	// FS is the file system used for config files
	FS system.FileSystem

	// Executor runs external commands
	Executor system.CommandExecutor

	// Audit is the event journal; nil discards events
	Audit *audit.Logger

	// Now is the clock
	Now func() time.Time

	mu         sync.RWMutex
	hostConfig *config.HostConfig
}

// Option is a function that configures the App
type Option func(*App)

// WithPaths sets custom paths
func WithPaths(paths *config.Paths) Option {
	return func(a *App) {
		a.Paths = paths
	}
}

// WithHostConfig sets a custom host config
func WithHostConfig(cfg *config.HostConfig) Option {
	return func(a *App) {
		a.hostConfig = cfg
	}
}

// WithFileSystem sets the file system
func WithFileSystem(fsys system.FileSystem) Option {
	return func(a *App) {
		a.FS = fsys
	}
}

// WithExecutor sets the command executor
func WithExecutor(exec system.CommandExecutor) Option {
	return func(a *App) {
		a.Executor = exec
	}
}

// WithAudit sets the event journal
func WithAudit(l *audit.Logger) Option {
	return func(a *App) {
		a.Audit = l
	}
}

// WithClock sets the clock
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.Now = now
	}
}

// New creates a new App with the given options.
// If no host config is provided it is loaded from Paths, falling back to
// the defaults when the file cannot be used.
func New(opts ...Option) *App {
	app := &App{
		Paths:    config.DefaultPaths(),
		FS:       system.DefaultFS(),
		Executor: system.DefaultExecutor(),
		Now:      time.Now,
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.hostConfig == nil {
		cfg, err := config.LoadHostConfig(app.FS, app.Paths.HostConfigFile())
		if err != nil {
			logging.Debug("failed to load host config, using defaults", "error", err)
			cfg = config.DefaultHostConfig()
		}
		app.hostConfig = cfg
	}

	return app
}

// HostConfig returns the current host configuration. The returned value
// must not be modified.
func (a *App) HostConfig() *config.HostConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hostConfig
}

// SetHostConfig replaces the host configuration, e.g. after a reload.
func (a *App) SetHostConfig(cfg *config.HostConfig) {
	a.mu.Lock()
	a.hostConfig = cfg
	a.mu.Unlock()
}

// Default is the default application instance
var Default = New()

// SetDefault sets the default application instance (used for testing)
func SetDefault(app *App) {
	Default = app
}

// ResetDefault resets to the default application instance
func ResetDefault() {
	Default = New()
}

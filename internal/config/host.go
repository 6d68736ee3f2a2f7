package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/system"
)

// HostConfig is the daemon's configuration, read from
// ~/.config/boxctl/config.yml. Durations are written as "10s", "1m".
type HostConfig struct {
	Daemon        DaemonConfig        `yaml:"daemon"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Stall         StallConfig         `yaml:"stall"`
	Sync          SyncConfig          `yaml:"sync"`
}

type DaemonConfig struct {
	Socket           string        `yaml:"socket,omitempty"`
	ControlSocket    string        `yaml:"control_socket,omitempty"`
	Listen           string        `yaml:"listen,omitempty"`
	Token            string        `yaml:"token,omitempty"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SessionRetention time.Duration `yaml:"session_retention"`
	Compression      string        `yaml:"compression,omitempty"`
}

type NotificationsConfig struct {
	Desktop     bool             `yaml:"desktop"`
	DedupWindow time.Duration    `yaml:"dedup_window"`
	HistorySize int              `yaml:"history_size"`
	Hook        string           `yaml:"hook,omitempty"`
	Summarizer  SummarizerConfig `yaml:"summarizer"`
}

type SummarizerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider,omitempty"`
	Endpoint  string        `yaml:"endpoint,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	APIKeyEnv string        `yaml:"api_key_env,omitempty"`
	Timeout   time.Duration `yaml:"timeout"`
}

type StallConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Threshold     time.Duration `yaml:"threshold"`
	Cooldown      time.Duration `yaml:"cooldown"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// DefaultHostConfig returns the configuration used when no file exists.
func DefaultHostConfig() *HostConfig {
	return &HostConfig{
		Daemon: DaemonConfig{
			HeartbeatTimeout: 45 * time.Second,
			SessionRetention: 30 * time.Second,
			Compression:      "none",
		},
		Notifications: NotificationsConfig{
			Desktop:     true,
			DedupWindow: 10 * time.Second,
			HistorySize: 50,
			Summarizer: SummarizerConfig{
				Provider: "openai",
				Timeout:  5 * time.Second,
			},
		},
		Stall: StallConfig{
			Enabled:       true,
			Threshold:     30 * time.Second,
			Cooldown:      60 * time.Second,
			CheckInterval: 5 * time.Second,
		},
		Sync: SyncConfig{
			Interval:    3 * time.Second,
			LockTimeout: 10 * time.Second,
		},
	}
}

// Validate checks that the HostConfig is usable.
func (c *HostConfig) Validate() error {
	switch c.Daemon.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("daemon.compression must be none, lz4 or zstd (got %q)", c.Daemon.Compression)
	}
	if c.Daemon.HeartbeatTimeout <= 0 {
		return fmt.Errorf("daemon.heartbeat_timeout must be positive")
	}
	if c.Daemon.SessionRetention < 0 {
		return fmt.Errorf("daemon.session_retention cannot be negative")
	}

	if c.Notifications.DedupWindow < 0 {
		return fmt.Errorf("notifications.dedup_window cannot be negative")
	}
	if c.Notifications.HistorySize < 0 {
		return fmt.Errorf("notifications.history_size cannot be negative")
	}
	s := c.Notifications.Summarizer
	if s.Enabled {
		if s.Provider != "openai" && s.Provider != "anthropic" {
			return fmt.Errorf("notifications.summarizer.provider must be openai or anthropic (got %q)", s.Provider)
		}
		if s.Timeout <= 0 {
			return fmt.Errorf("notifications.summarizer.timeout must be positive")
		}
	}

	if c.Stall.Enabled {
		if c.Stall.Threshold <= 0 {
			return fmt.Errorf("stall.threshold must be positive")
		}
		if c.Stall.CheckInterval <= 0 {
			return fmt.Errorf("stall.check_interval must be positive")
		}
		if c.Stall.Cooldown < 0 {
			return fmt.Errorf("stall.cooldown cannot be negative")
		}
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.LockTimeout <= 0 {
		return fmt.Errorf("sync.lock_timeout must be positive")
	}
	return nil
}

// TunnelSocket returns the configured tunnel socket or the default.
func (c *HostConfig) TunnelSocket(p *Paths) string {
	if c.Daemon.Socket != "" {
		return c.Daemon.Socket
	}
	return p.TunnelSocket()
}

// ControlSocket returns the configured control socket or the default.
func (c *HostConfig) ControlSocket(p *Paths) string {
	if c.Daemon.ControlSocket != "" {
		return c.Daemon.ControlSocket
	}
	return p.ControlSocket()
}

// LoadHostConfig reads the host config at path on top of the defaults.
// A missing file yields the defaults.
func LoadHostConfig(fsys system.FileSystem, path string) (*HostConfig, error) {
	cfg := DefaultHostConfig()

	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, boxerrors.ConfigError("failed to read host config", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, boxerrors.ConfigParse(path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, boxerrors.ConfigError("invalid host config "+path, err)
	}
	return cfg, nil
}

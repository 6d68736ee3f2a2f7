package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"gopkg.in/yaml.v3"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/system"
)

const (
	// ProjectDirName is the hidden per-project directory.
	ProjectDirName = ".boxctl"

	// ProjectConfigName is the project config file inside ProjectDirName.
	ProjectConfigName = "config.yml"
)

// PortSpec is one configured port mapping.
type PortSpec struct {
	ContainerPort int    `yaml:"container_port"`
	HostPort      int    `yaml:"host_port"`
	Bind          string `yaml:"bind,omitempty"`
}

type PortsConfig struct {
	Expose  []PortSpec `yaml:"expose,omitempty"`
	Forward []PortSpec `yaml:"forward,omitempty"`
}

// StallOverride adjusts stall detection for one project.
type StallOverride struct {
	Enabled   *bool         `yaml:"enabled,omitempty"`
	Threshold time.Duration `yaml:"threshold,omitempty"`
}

// ProjectConfig is <project>/.boxctl/config.yml. Sections boxctl does not
// interpret are kept in Extra and written back unchanged.
type ProjectConfig struct {
	Project        string         `yaml:"project,omitempty"`
	Ports          PortsConfig    `yaml:"ports,omitempty"`
	StallDetection *StallOverride `yaml:"stall_detection,omitempty"`
	Extra          map[string]any `yaml:",inline"`
}

// ProjectConfigPath returns the config path inside projectDir.
func ProjectConfigPath(projectDir string) (string, error) {
	path, err := securejoin.SecureJoin(projectDir, filepath.Join(ProjectDirName, ProjectConfigName))
	if err != nil {
		return "", fmt.Errorf("resolve project config in %s: %w", projectDir, err)
	}
	return path, nil
}

// LoadProjectConfig reads a project config. A missing file yields an
// empty config.
func LoadProjectConfig(fsys system.FileSystem, path string) (*ProjectConfig, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ProjectConfig{}, nil
	}
	if err != nil {
		return nil, boxerrors.ConfigError("failed to read project config", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, boxerrors.ConfigParse(path, err)
	}
	return &cfg, nil
}

// SaveProjectConfig writes cfg atomically.
func SaveProjectConfig(fsys system.FileSystem, path string, cfg *ProjectConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return boxerrors.ConfigWrite(path, err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return boxerrors.ConfigWrite(path, err)
	}
	if err := fsys.WriteFileAtomic(path, data, 0644); err != nil {
		return boxerrors.ConfigWrite(path, err)
	}
	return nil
}

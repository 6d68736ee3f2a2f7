// Package testutil provides test utilities for command and integration tests
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/scharc/boxctl/internal/app"
	"github.com/scharc/boxctl/internal/audit"
	"github.com/scharc/boxctl/internal/config"
	"github.com/scharc/boxctl/internal/system"
)

// TestEnv holds the test environment
type TestEnv struct {
	T          *testing.T
	TmpDir     string
	Paths      *config.Paths
	HostConfig *config.HostConfig
	Executor   *system.MockExecutor
	App        *app.App
	cleanup    func()
}

// NewTestEnv creates a test environment rooted in a temporary directory
// and installs its App as the default.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()

	paths := &config.Paths{
		ConfigDir:  filepath.Join(tmpDir, "config"),
		StateDir:   filepath.Join(tmpDir, "state"),
		RuntimeDir: filepath.Join(tmpDir, "run"),
	}

	for _, dir := range []string{paths.ConfigDir, paths.StateDir, paths.RuntimeDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	hostConfig := config.DefaultHostConfig()
	hostConfig.Notifications.Desktop = false

	exec := system.NewMockExecutor()
	testApp := app.New(
		app.WithPaths(paths),
		app.WithHostConfig(hostConfig),
		app.WithExecutor(exec),
		app.WithAudit(audit.NewLogger(paths.EventsDir())),
	)

	originalDefault := app.Default
	app.SetDefault(testApp)

	env := &TestEnv{
		T:          t,
		TmpDir:     tmpDir,
		Paths:      paths,
		HostConfig: hostConfig,
		Executor:   exec,
		App:        testApp,
		cleanup: func() {
			app.SetDefault(originalDefault)
		},
	}
	t.Cleanup(env.Cleanup)
	return env
}

// Cleanup restores the original app default
func (e *TestEnv) Cleanup() {
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
}

// WriteHostConfig writes cfg to the host config file.
func (e *TestEnv) WriteHostConfig(cfg *config.HostConfig) {
	e.T.Helper()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		e.T.Fatalf("Failed to marshal host config: %v", err)
	}
	if err := os.WriteFile(e.Paths.HostConfigFile(), data, 0644); err != nil {
		e.T.Fatalf("Failed to write host config: %v", err)
	}
}

// CreateProject creates a project directory, records it in the project
// index and writes cfg as its project config when cfg is not nil.
func (e *TestEnv) CreateProject(name string, cfg *config.ProjectConfig) string {
	e.T.Helper()

	dir := filepath.Join(e.TmpDir, "projects", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		e.T.Fatalf("Failed to create project: %v", err)
	}

	fsys := system.DefaultFS()
	idx, err := config.LoadProjectIndex(fsys, e.Paths.ProjectIndexFile())
	if err != nil {
		e.T.Fatalf("Failed to load project index: %v", err)
	}
	if _, err := idx.Set(name, dir); err != nil {
		e.T.Fatalf("Failed to index project: %v", err)
	}
	if err := idx.Save(fsys, e.Paths.ProjectIndexFile()); err != nil {
		e.T.Fatalf("Failed to save project index: %v", err)
	}

	if cfg != nil {
		path, err := config.ProjectConfigPath(dir)
		if err != nil {
			e.T.Fatalf("Failed to resolve project config: %v", err)
		}
		if err := config.SaveProjectConfig(fsys, path, cfg); err != nil {
			e.T.Fatalf("Failed to write project config: %v", err)
		}
	}
	return dir
}

// ProjectConfig loads the project config of a project created with
// CreateProject.
func (e *TestEnv) ProjectConfig(name string) *config.ProjectConfig {
	e.T.Helper()

	path, err := config.ProjectConfigPath(filepath.Join(e.TmpDir, "projects", name))
	if err != nil {
		e.T.Fatalf("Failed to resolve project config: %v", err)
	}
	cfg, err := config.LoadProjectConfig(system.DefaultFS(), path)
	if err != nil {
		e.T.Fatalf("Failed to load project config: %v", err)
	}
	return cfg
}

// WriteFile writes data below the environment's temporary directory and
// returns the absolute path.
func (e *TestEnv) WriteFile(rel string, data []byte) string {
	e.T.Helper()

	path := filepath.Join(e.TmpDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		e.T.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		e.T.Fatalf("Failed to write %s: %v", rel, err)
	}
	return path
}

package port

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/scharc/boxctl/internal/config"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/system"
)

// Store persists the port configuration of projects.
type Store interface {
	// Projects lists every project with a known configuration.
	Projects() ([]string, error)

	// Load returns the tunnels configured for project.
	Load(project string) ([]Tunnel, error)

	// Save replaces the tunnels configured for project.
	Save(project string, tunnels []Tunnel) error
}

// ConfigStore keeps tunnels in each project's .boxctl/config.yml, found
// through the project index. Projects missing from the index are kept in
// <state>/ports.yml until their directory becomes known.
type ConfigStore struct {
	fs    system.FileSystem
	paths *config.Paths

	mu sync.Mutex
}

// NewConfigStore creates a store.
func NewConfigStore(fsys system.FileSystem, paths *config.Paths) *ConfigStore {
	return &ConfigStore{fs: fsys, paths: paths}
}

// RegisterProject records the host directory of project in the index.
// Ports kept in the fallback file move into the project config.
func (s *ConfigStore) RegisterProject(project, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := config.LoadProjectIndex(s.fs, s.paths.ProjectIndexFile())
	if err != nil {
		return err
	}
	changed, err := idx.Set(project, dir)
	if err != nil || !changed {
		return err
	}
	if err := idx.Save(s.fs, s.paths.ProjectIndexFile()); err != nil {
		return err
	}

	orphans, err := s.loadOrphans()
	if err != nil {
		return err
	}
	ports, ok := orphans[project]
	if !ok {
		return nil
	}
	if err := s.saveProjectFile(project, dir, ports); err != nil {
		return err
	}
	delete(orphans, project)
	return s.saveOrphans(orphans)
}

// Projects implements Store.
func (s *ConfigStore) Projects() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := config.LoadProjectIndex(s.fs, s.paths.ProjectIndexFile())
	if err != nil {
		return nil, err
	}
	orphans, err := s.loadOrphans()
	if err != nil {
		return nil, err
	}

	names := idx.Names()
	for name := range orphans {
		if _, ok := idx.Lookup(name); !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load implements Store.
func (s *ConfigStore) Load(project string) ([]Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ports, err := s.load(project)
	if err != nil {
		return nil, err
	}
	tunnels := fromSpecs(project, Expose, ports.Expose)
	return append(tunnels, fromSpecs(project, Forward, ports.Forward)...), nil
}

func (s *ConfigStore) load(project string) (config.PortsConfig, error) {
	idx, err := config.LoadProjectIndex(s.fs, s.paths.ProjectIndexFile())
	if err != nil {
		return config.PortsConfig{}, err
	}
	if dir, ok := idx.Lookup(project); ok {
		path, err := config.ProjectConfigPath(dir)
		if err != nil {
			return config.PortsConfig{}, err
		}
		cfg, err := config.LoadProjectConfig(s.fs, path)
		if err != nil {
			return config.PortsConfig{}, err
		}
		return cfg.Ports, nil
	}

	orphans, err := s.loadOrphans()
	if err != nil {
		return config.PortsConfig{}, err
	}
	return orphans[project], nil
}

// Save implements Store. Other sections of the project config are kept.
func (s *ConfigStore) Save(project string, tunnels []Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ports := toSpecs(tunnels)
	idx, err := config.LoadProjectIndex(s.fs, s.paths.ProjectIndexFile())
	if err != nil {
		return err
	}
	if dir, ok := idx.Lookup(project); ok {
		return s.saveProjectFile(project, dir, ports)
	}

	orphans, err := s.loadOrphans()
	if err != nil {
		return err
	}
	if len(ports.Expose) == 0 && len(ports.Forward) == 0 {
		delete(orphans, project)
	} else {
		orphans[project] = ports
	}
	return s.saveOrphans(orphans)
}

func (s *ConfigStore) saveProjectFile(project, dir string, ports config.PortsConfig) error {
	path, err := config.ProjectConfigPath(dir)
	if err != nil {
		return err
	}
	cfg, err := config.LoadProjectConfig(s.fs, path)
	if err != nil {
		return err
	}
	if cfg.Project == "" {
		cfg.Project = project
	}
	cfg.Ports = ports
	return config.SaveProjectConfig(s.fs, path, cfg)
}

func (s *ConfigStore) loadOrphans() (map[string]config.PortsConfig, error) {
	orphans := make(map[string]config.PortsConfig)
	path := s.paths.PortsFile()
	data, err := s.fs.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return orphans, nil
	}
	if err != nil {
		return nil, boxerrors.ConfigError("failed to read port store", err)
	}
	if err := yaml.Unmarshal(data, &orphans); err != nil {
		return nil, boxerrors.ConfigParse(path, err)
	}
	if orphans == nil {
		orphans = make(map[string]config.PortsConfig)
	}
	return orphans, nil
}

func (s *ConfigStore) saveOrphans(orphans map[string]config.PortsConfig) error {
	path := s.paths.PortsFile()
	data, err := yaml.Marshal(orphans)
	if err != nil {
		return boxerrors.ConfigWrite(path, err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return boxerrors.ConfigWrite(path, err)
	}
	if err := s.fs.WriteFileAtomic(path, data, 0644); err != nil {
		return boxerrors.ConfigWrite(path, err)
	}
	return nil
}

// MemoryStore is a Store kept in memory.
type MemoryStore struct {
	mu       sync.Mutex
	projects map[string][]Tunnel

	// SaveErr, when set, fails every Save.
	SaveErr error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string][]Tunnel)}
}

func (m *MemoryStore) Projects() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.projects))
	for name := range m.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Load(project string) ([]Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Tunnel(nil), m.projects[project]...), nil
}

func (m *MemoryStore) Save(project string, tunnels []Tunnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.projects[project] = append([]Tunnel(nil), tunnels...)
	return nil
}

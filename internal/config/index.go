package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/system"
)

// ProjectIndex maps project names to their host directories so the daemon
// can find every project's port configuration.
type ProjectIndex struct {
	Projects map[string]string `yaml:"projects"`
}

// LoadProjectIndex reads the index. A missing file yields an empty index.
func LoadProjectIndex(fsys system.FileSystem, path string) (*ProjectIndex, error) {
	idx := &ProjectIndex{Projects: map[string]string{}}

	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, boxerrors.ConfigError("failed to read project index", err)
	}
	if err := yaml.Unmarshal(data, idx); err != nil {
		return nil, boxerrors.ConfigParse(path, err)
	}
	if idx.Projects == nil {
		idx.Projects = map[string]string{}
	}
	return idx, nil
}

// Save writes the index atomically.
func (idx *ProjectIndex) Save(fsys system.FileSystem, path string) error {
	data, err := yaml.Marshal(idx)
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

// Set records dir for project. It reports whether the index changed.
func (idx *ProjectIndex) Set(project, dir string) (bool, error) {
	if err := ValidateProjectName(project); err != nil {
		return false, boxerrors.ValidationError(err.Error())
	}
	if !filepath.IsAbs(dir) {
		return false, boxerrors.ValidationError("project directory must be absolute: " + dir)
	}
	if idx.Projects[project] == dir {
		return false, nil
	}
	idx.Projects[project] = dir
	return true, nil
}

// Lookup returns the directory of project.
func (idx *ProjectIndex) Lookup(project string) (string, bool) {
	dir, ok := idx.Projects[project]
	return dir, ok
}

// Names returns the indexed project names in sorted order.
func (idx *ProjectIndex) Names() []string {
	names := make([]string, 0, len(idx.Projects))
	for name := range idx.Projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

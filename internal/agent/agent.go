// Package agent describes the coding agents whose configuration boxctl keeps
// in sync. Each agent names its native format, where its three config
// documents live and which top-level keys are always written in full.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Format is the on-disk serialization of an agent's config.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// Default locations inside a container.
const (
	DefaultLibraryDir = "/boxctl/library/config/default"
	DefaultProjectDir = "/workspace"
	DefaultHomeDir    = "/home/abox"

	// ProjectConfigDir is the hidden directory holding project overrides.
	ProjectConfigDir = ".boxctl"
)

// Agent describes one agent's config documents.
type Agent struct {
	Name   string
	Format Format

	// BaselineFile is relative to the library directory.
	BaselineFile string
	// ProjectFile is relative to the project's config directory.
	ProjectFile string
	// RuntimeFile is relative to the home directory.
	RuntimeFile string

	// Preserved lists the top-level keys written in full on split.
	Preserved []string

	// UnwrapKey, when set, is a top-level key in the baseline document
	// whose value holds the actual settings.
	UnwrapKey string
}

var catalogue = map[string]Agent{
	"claude": {
		Name:         "claude",
		Format:       FormatJSON,
		BaselineFile: "config.json",
		ProjectFile:  "claude.json",
		RuntimeFile:  ".claude/config.json",
		Preserved:    []string{"mcpServers", "skills"},
		UnwrapKey:    "settings",
	},
	"codex": {
		Name:         "codex",
		Format:       FormatTOML,
		BaselineFile: "codex.toml",
		ProjectFile:  "codex.toml",
		RuntimeFile:  ".codex/config.toml",
		Preserved:    []string{"mcp_servers", "skills"},
	},
	"gemini": {
		Name:         "gemini",
		Format:       FormatJSON,
		BaselineFile: "gemini.json",
		ProjectFile:  "gemini.json",
		RuntimeFile:  ".gemini/settings.json",
		Preserved:    []string{"mcpServers"},
		UnwrapKey:    "settings",
	},
	"qwen": {
		Name:         "qwen",
		Format:       FormatJSON,
		BaselineFile: "qwen.json",
		ProjectFile:  "qwen.json",
		RuntimeFile:  ".qwen/settings.json",
		Preserved:    []string{"mcpServers"},
		UnwrapKey:    "settings",
	},
}

// Lookup returns the agent with the given name.
func Lookup(name string) (Agent, bool) {
	a, ok := catalogue[name]
	return a, ok
}

// Names returns all known agent names in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every known agent sorted by name.
func All() []Agent {
	var agents []Agent
	for _, name := range Names() {
		agents = append(agents, catalogue[name])
	}
	return agents
}

// Locations are the roots the three documents are resolved against.
type Locations struct {
	LibraryDir string
	ProjectDir string
	HomeDir    string
}

// DefaultLocations returns the in-container defaults.
func DefaultLocations() Locations {
	return Locations{
		LibraryDir: DefaultLibraryDir,
		ProjectDir: DefaultProjectDir,
		HomeDir:    DefaultHomeDir,
	}
}

// Files holds the resolved paths of an agent's documents.
type Files struct {
	Baseline string
	Project  string
	Runtime  string
}

// Resolve returns the document paths for loc. Relative names are joined
// with securejoin so they cannot escape their root. BOXCTL_<AGENT>_BASELINE,
// BOXCTL_<AGENT>_PROJECT and BOXCTL_<AGENT>_RUNTIME override the result.
func (a Agent) Resolve(loc Locations) (Files, error) {
	var files Files
	var err error

	if files.Baseline, err = securejoin.SecureJoin(loc.LibraryDir, a.BaselineFile); err != nil {
		return Files{}, fmt.Errorf("resolve baseline for %s: %w", a.Name, err)
	}
	if files.Project, err = securejoin.SecureJoin(loc.ProjectDir, filepath.Join(ProjectConfigDir, a.ProjectFile)); err != nil {
		return Files{}, fmt.Errorf("resolve project config for %s: %w", a.Name, err)
	}
	if files.Runtime, err = securejoin.SecureJoin(loc.HomeDir, a.RuntimeFile); err != nil {
		return Files{}, fmt.Errorf("resolve runtime config for %s: %w", a.Name, err)
	}

	prefix := "BOXCTL_" + strings.ToUpper(a.Name) + "_"
	if v := os.Getenv(prefix + "BASELINE"); v != "" {
		files.Baseline = v
	}
	if v := os.Getenv(prefix + "PROJECT"); v != "" {
		files.Project = v
	}
	if v := os.Getenv(prefix + "RUNTIME"); v != "" {
		files.Runtime = v
	}
	return files, nil
}

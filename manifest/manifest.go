// Package manifest handles adder.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/adder/vm"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "adder.toml"

// Manifest represents an adder.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Runtime      Runtime               `toml:"runtime"`
	Modules      Modules               `toml:"modules"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	Log          Log                   `toml:"log"`
	Cache        Cache                 `toml:"cache"`

	// Dir is the directory containing the adder.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	// Module overrides the import name other projects use for this one.
	Module string `toml:"module"`
}

// Runtime configures the VM.
type Runtime struct {
	RecursionLimit int    `toml:"recursion-limit"`
	Optimize       uint8  `toml:"optimize"`
	Trace          bool   `toml:"trace"`
	HashSeed       uint64 `toml:"hash-seed"`
}

// Modules configures where source modules are found.
type Modules struct {
	Path []string `toml:"path"`
	// Frozen names embedded modules imported before the main program runs.
	Frozen []string `toml:"frozen"`
}

// Dependency is another project whose modules become importable.
type Dependency struct {
	Git    string `toml:"git"`
	Tag    string `toml:"tag"`
	Path   string `toml:"path"`
	Module string `toml:"module"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Cache configures the compiled-module cache.
type Cache struct {
	Dir     string `toml:"dir"`
	Enabled *bool  `toml:"enabled"`
}

// Load parses an adder.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Modules.Path) == 0 {
		m.Modules.Path = []string{"."}
	}
	if m.Cache.Dir == "" {
		m.Cache.Dir = filepath.Join(".adder", "cache")
	}
	if m.Runtime.RecursionLimit < 0 {
		return nil, fmt.Errorf("%s: recursion-limit must be positive", path)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find an adder.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ModulePaths returns absolute paths for the configured module directories.
func (m *Manifest) ModulePaths() []string {
	var paths []string
	for _, d := range m.Modules.Path {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// CacheDir returns the absolute compile cache directory, or "" when the
// cache is disabled.
func (m *Manifest) CacheDir() string {
	if m.Cache.Enabled != nil && !*m.Cache.Enabled {
		return ""
	}
	if filepath.IsAbs(m.Cache.Dir) {
		return m.Cache.Dir
	}
	return filepath.Join(m.Dir, m.Cache.Dir)
}

// Settings converts the manifest into VM settings. Resolved dependency
// directories are searched after the project's own module path.
func (m *Manifest) Settings(deps []ResolvedDep) vm.Settings {
	s := vm.Settings{
		RecursionLimit:    m.Runtime.RecursionLimit,
		Optimize:          m.Runtime.Optimize,
		TraceInstructions: m.Runtime.Trace,
		HashSeed:          m.Runtime.HashSeed,
		Path:              m.ModulePaths(),
	}
	for _, d := range deps {
		s.Path = append(s.Path, d.Paths...)
	}
	return s
}

// DepsDir returns the path to the .adder/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".adder", "deps")
}

// LockFilePath returns the path to .adder/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".adder", "lock.toml")
}

// Package manifest handles synapse.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/synapse/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "synapse.toml"

// Manifest represents a synapse.toml configuration.
type Manifest struct {
	VM     VMSection     `toml:"vm"`
	Cache  CacheSection  `toml:"cache"`
	Log    LogSection    `toml:"log"`
	Server ServerSection `toml:"server"`

	// Dir is the directory containing the synapse.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMSection bounds each run. Zero values take the vm defaults, except that
// zero step-limit means unbounded.
type VMSection struct {
	MaxFrames     int   `toml:"max-frames"`
	MaxStack      int   `toml:"max-stack"`
	MaxHeapBytes  int   `toml:"max-heap-bytes"`
	StepLimit     int64 `toml:"step-limit"`
	CheckInterval int   `toml:"check-interval"`
	Trace         bool  `toml:"trace"`
}

// CacheSection configures the compiled-program cache.
type CacheSection struct {
	// Path is relative to the manifest directory. Empty disables caching.
	Path string `toml:"path"`
}

// LogSection configures logging.
type LogSection struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ServerSection configures the eval server.
type ServerSection struct {
	Addr    string `toml:"addr"`
	Workers int    `toml:"workers"`
}

// Defaults
const (
	DefaultCachePath = ".synapse/cache.db"
	DefaultAddr      = "localhost:4567"
	DefaultWorkers   = 4
)

// Default returns the configuration used when no synapse.toml exists. Its
// cache lives in the user cache directory, or is disabled when there is
// none.
func Default() *Manifest {
	m := &Manifest{Dir: "."}
	if dir, err := os.UserCacheDir(); err == nil {
		m.Cache.Path = filepath.Join(dir, "synapse", "cache.db")
	}
	m.applyDefaults(nil)
	return m
}

// Load parses a synapse.toml file from the given directory.
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
		return nil, fmt.Errorf("parse error in %s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults(&md)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) applyDefaults(md *toml.MetaData) {
	if md != nil && !md.IsDefined("cache", "path") {
		m.Cache.Path = DefaultCachePath
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.Workers <= 0 {
		m.Server.Workers = DefaultWorkers
	}
}

// Validate rejects settings no run could satisfy.
func (m *Manifest) Validate() error {
	switch {
	case m.VM.MaxFrames < 0:
		return fmt.Errorf("vm.max-frames must not be negative")
	case m.VM.MaxStack < 0:
		return fmt.Errorf("vm.max-stack must not be negative")
	case m.VM.MaxHeapBytes < 0:
		return fmt.Errorf("vm.max-heap-bytes must not be negative")
	case m.VM.StepLimit < 0:
		return fmt.Errorf("vm.step-limit must not be negative")
	case m.Log.Verbosity < 0:
		return fmt.Errorf("log.verbosity must not be negative")
	}
	return nil
}

// FindAndLoad walks up from startDir to find a synapse.toml file,
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

// VMConfig converts the [vm] section into a machine configuration.
func (m *Manifest) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if m.VM.MaxFrames > 0 {
		cfg.MaxFrames = m.VM.MaxFrames
	}
	if m.VM.MaxStack > 0 {
		cfg.MaxStack = m.VM.MaxStack
	}
	if m.VM.MaxHeapBytes > 0 {
		cfg.MaxHeapBytes = m.VM.MaxHeapBytes
	}
	if m.VM.CheckInterval > 0 {
		cfg.CheckInterval = m.VM.CheckInterval
	}
	cfg.StepLimit = m.VM.StepLimit
	cfg.Trace = m.VM.Trace
	return cfg
}

// CachePath returns the absolute cache database path, or "" when caching
// is disabled.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// LogFile returns the log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}

// Package config loads a single node's on-disk YAML configuration: where
// it keeps state, which port it listens for pheromone signals on, which
// NTP pool it checks clock skew against, and a list of known peers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"cell/internal/discovery"
	"cell/internal/ntp"
)

const (
	defaultLinuxDataRoot  = "/var/lib/cell"
	defaultDarwinDataRoot = "Library/Application Support/cell"
)

// Config is a single node's configuration, loaded from YAML and filled
// in with defaults for any field left unset.
type Config struct {
	// NodeID identifies this node in Raft and discovery advertisements.
	// Generated on first run and persisted back if empty (see Identity).
	NodeID string `yaml:"node_id,omitempty"`

	// DataRoot is where WAL segments, the registry mirror database, and
	// synthesized cell binaries are kept.
	DataRoot string `yaml:"data_root,omitempty"`
	// SocketDir is where per-cell Unix sockets and umbilical sockets are
	// bound, and what gets mounted into every sandbox as /tmp/cell.
	SocketDir string `yaml:"socket_dir,omitempty"`

	// DiscoveryPort is the UDP port pheromone signals are broadcast and
	// listened for on.
	DiscoveryPort int `yaml:"discovery_port,omitempty"`
	// Peers lists known host:port targets. Load trims each entry and Save
	// writes them back; no component reads them, so discovery relies on
	// broadcast alone.
	Peers []string `yaml:"peers,omitempty"`

	// NTPServer is the pool queried for the clock-skew advisory.
	NTPServer string `yaml:"ntp_server,omitempty"`

	// SandboxBinary is the bubblewrap executable used to isolate
	// spawned cells, resolved from PATH if empty.
	SandboxBinary string `yaml:"sandbox_binary,omitempty"`
}

// BinaryDir is where the Ribosome installs synthesized cell executables.
func (c Config) BinaryDir() string { return filepath.Join(c.DataRoot, "bin") }

// RibosomeMetaDir is where the Ribosome keeps build hashes, lock files,
// and scratch build output: the hidden .meta subdirectory of BinaryDir.
func (c Config) RibosomeMetaDir() string { return filepath.Join(c.DataRoot, "bin", ".meta") }

// WALDir is where each cell's Raft log segment lives.
func (c Config) WALDir() string { return filepath.Join(c.DataRoot, "wal") }

// RegistryPath is the sqlite mirror database path (§4.N).
func (c Config) RegistryPath() string { return filepath.Join(c.DataRoot, "registry.db") }

// DefaultDataRoot returns the platform-appropriate default data root,
// matching the teacher's own Linux/Darwin split.
func DefaultDataRoot() string {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return defaultLinuxDataRoot
		}
		return filepath.Join(home, defaultDarwinDataRoot)
	}
	return defaultLinuxDataRoot
}

// Load reads path and fills in defaults for every unset field. A
// missing file is not an error: an all-defaults Config is returned, the
// way a node's first run on a host with no prior config should behave.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return normalize(cfg), nil
}

// Save writes cfg to path as YAML, creating parent directories as
// needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func normalize(cfg Config) Config {
	if cfg.DataRoot == "" {
		cfg.DataRoot = DefaultDataRoot()
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = filepath.Join(cfg.DataRoot, "sock")
	}
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = discovery.DefaultPort
	}
	if cfg.NTPServer == "" {
		cfg.NTPServer = ntp.DefaultServer
	}
	for i := range cfg.Peers {
		cfg.Peers[i] = strings.TrimSpace(cfg.Peers[i])
	}
	if cfg.SandboxBinary == "" {
		cfg.SandboxBinary = "bwrap"
	}
	return cfg
}

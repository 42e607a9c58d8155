package config

import (
	"path/filepath"
	"testing"

	"cell/internal/discovery"
	"cell/internal/ntp"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot == "" {
		t.Fatal("expected a default DataRoot")
	}
	if cfg.DiscoveryPort != discovery.DefaultPort {
		t.Fatalf("got DiscoveryPort %d, want %d", cfg.DiscoveryPort, discovery.DefaultPort)
	}
	if cfg.NTPServer != ntp.DefaultServer {
		t.Fatalf("got NTPServer %q, want %q", cfg.NTPServer, ntp.DefaultServer)
	}
	if cfg.SandboxBinary != "bwrap" {
		t.Fatalf("got SandboxBinary %q, want %q", cfg.SandboxBinary, "bwrap")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Config{
		NodeID:        "node-a",
		DataRoot:      "/tmp/custom-root",
		DiscoveryPort: 9999,
		Peers:         []string{" 10.0.0.1:7331 ", "10.0.0.2:7331"},
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NodeID != "node-a" {
		t.Fatalf("got NodeID %q, want %q", loaded.NodeID, "node-a")
	}
	if loaded.DataRoot != "/tmp/custom-root" {
		t.Fatalf("got DataRoot %q, want %q", loaded.DataRoot, "/tmp/custom-root")
	}
	if loaded.DiscoveryPort != 9999 {
		t.Fatalf("got DiscoveryPort %d, want 9999", loaded.DiscoveryPort)
	}
	if loaded.Peers[0] != "10.0.0.1:7331" {
		t.Fatalf("got Peers[0] %q, want trimmed %q", loaded.Peers[0], "10.0.0.1:7331")
	}
}

func TestDerivedPathsNestUnderDataRoot(t *testing.T) {
	cfg := Config{DataRoot: "/data"}
	if got, want := cfg.BinaryDir(), "/data/bin"; got != want {
		t.Fatalf("got BinaryDir %q, want %q", got, want)
	}
	if got, want := cfg.RibosomeMetaDir(), "/data/bin/.meta"; got != want {
		t.Fatalf("got RibosomeMetaDir %q, want %q", got, want)
	}
	if got, want := cfg.WALDir(), "/data/wal"; got != want {
		t.Fatalf("got WALDir %q, want %q", got, want)
	}
	if got, want := cfg.RegistryPath(), "/data/registry.db"; got != want {
		t.Fatalf("got RegistryPath %q, want %q", got, want)
	}
}

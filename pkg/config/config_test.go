package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.CubeStore.TTL() != 900*time.Second {
		t.Errorf("CubeStore.TTL() = %v, want 900s", cfg.CubeStore.TTL())
	}
	if cfg.Hypercube.SourceTable != "public.facts_agg" {
		t.Errorf("Hypercube.SourceTable = %q, want public.facts_agg", cfg.Hypercube.SourceTable)
	}
	if cfg.Invalidator.Enabled {
		t.Error("Invalidator.Enabled should default to false")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  port: 9999
cube_store:
  memory_limit: "2GB"
  threads: 2
  cache_ttl_seconds: 120
invalidator:
  enabled: true
  query: "SELECT count(*) FROM public.facts_agg"
  check_interval_seconds: 10
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.CubeStore.Threads != 2 {
		t.Errorf("CubeStore.Threads = %d, want 2", cfg.CubeStore.Threads)
	}
	if !cfg.Invalidator.Enabled {
		t.Error("Invalidator.Enabled should be true")
	}
	if cfg.Invalidator.Interval() != 10*time.Second {
		t.Errorf("Invalidator.Interval() = %v, want 10s", cfg.Invalidator.Interval())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HCP_SERVER_PORT", "7777")
	t.Setenv("HCP_CUBE_STORE_CACHE_TTL_SECONDS", "45")
	t.Setenv("HCP_INVALIDATOR_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.CubeStore.CacheTTLSeconds != 45 {
		t.Errorf("CubeStore.CacheTTLSeconds = %d, want 45", cfg.CubeStore.CacheTTLSeconds)
	}
	if !cfg.Invalidator.Enabled {
		t.Error("Invalidator.Enabled should be true via env override")
	}
}

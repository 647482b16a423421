package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: "9090"
store:
  driver: sqlite
  dsn: "file::memory:?cache=shared"
engine:
  max_active_quests: 5
inference:
  provider: openai
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Store.Driver != "sqlite" {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Engine.MaxActiveQuests != 5 {
		t.Fatalf("expected max_active_quests 5, got %d", cfg.Engine.MaxActiveQuests)
	}
	if cfg.Engine.MaxNewQuests != 2 || cfg.Engine.NumericTolerance != 0.01 {
		t.Fatalf("defaults lost: %+v", cfg.Engine)
	}
	if cfg.Inference.APIKey != "sk-test" {
		t.Fatalf("expected api key from env, got %q", cfg.Inference.APIKey)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Inference.Provider != "heuristic" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestStoreDSNFallsBackToPostgresURL(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	cfg.Postgres.URL = "postgres://x"
	if got := cfg.StoreDSN(); got != "postgres://x" {
		t.Fatalf("expected postgres url, got %q", got)
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := TTLDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback on parse error, got %v", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
}

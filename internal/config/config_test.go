package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile_DefaultsApplied(t *testing.T) {
	// Given: A minimal config file overriding only the port
	path := writeConfig(t, "server:\n  port: 9001\n")

	// When: Loaded
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	// Then: Explicit value sticks, everything else stays at defaults
	if cfg.Server.Port != 9001 {
		t.Errorf("Port: got %d, want 9001", cfg.Server.Port)
	}
	if cfg.Database.Path != "data/mindvibe.db" {
		t.Errorf("Database.Path: got %q, want default", cfg.Database.Path)
	}
	if cfg.Sync.MaxRetries != 8 {
		t.Errorf("Sync.MaxRetries: got %d, want 8", cfg.Sync.MaxRetries)
	}
	if time.Duration(cfg.Sync.BaseRetryDelay) != 2*time.Second {
		t.Errorf("Sync.BaseRetryDelay: got %v, want 2s", time.Duration(cfg.Sync.BaseRetryDelay))
	}
	if cfg.Cache.Capacity != 256 {
		t.Errorf("Cache.Capacity: got %d, want 256", cfg.Cache.Capacity)
	}
}

func TestLoadFromFile_DurationParsing(t *testing.T) {
	path := writeConfig(t, `
sync:
  interval: 45s
  base_retry_delay: 500ms
  max_retry_delay: 2m
cache:
  ttl: 90m
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if time.Duration(cfg.Sync.Interval) != 45*time.Second {
		t.Errorf("Interval: got %v, want 45s", time.Duration(cfg.Sync.Interval))
	}
	if time.Duration(cfg.Sync.BaseRetryDelay) != 500*time.Millisecond {
		t.Errorf("BaseRetryDelay: got %v, want 500ms", time.Duration(cfg.Sync.BaseRetryDelay))
	}
	if time.Duration(cfg.Cache.TTL) != 90*time.Minute {
		t.Errorf("Cache.TTL: got %v, want 90m", time.Duration(cfg.Cache.TTL))
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "sync:\n  interval: nonsense\n")

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("Expected error for invalid duration, got nil")
	}
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9001\n")

	t.Setenv("MINDVIBE_PORT", "9002")
	t.Setenv("MINDVIBE_API_KEY", "test-key")
	t.Setenv("MINDVIBE_SYNC_MAX_RETRIES", "3")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 9002 {
		t.Errorf("Port: got %d, want env override 9002", cfg.Server.Port)
	}
	if cfg.Backend.APIKey != "test-key" {
		t.Errorf("APIKey: got %q, want env value", cfg.Backend.APIKey)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d, want 3", cfg.Sync.MaxRetries)
	}
}

func TestValidate_RejectsInvertedRetryDelays(t *testing.T) {
	path := writeConfig(t, `
sync:
  base_retry_delay: 1m
  max_retry_delay: 1s
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("Expected validation error for max < base retry delay")
	}
}

func TestValidate_BackupBucketRequiresEndpoint(t *testing.T) {
	path := writeConfig(t, "backup:\n  bucket: mindvibe-backups\n")

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("Expected validation error for bucket without endpoint")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mindvibe.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

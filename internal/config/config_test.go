package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := NewDefault()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Cache.MemoryTTL != 5*time.Hour {
		t.Errorf("expected 5h memory TTL, got %v", cfg.Cache.MemoryTTL)
	}
	if cfg.Cache.DiskTTL != 7*24*time.Hour {
		t.Errorf("expected 7d disk TTL, got %v", cfg.Cache.DiskTTL)
	}
	if cfg.Cache.MaxSessionsInMemory != 100 || cfg.Cache.MaxItemsPerSession != 50 {
		t.Errorf("unexpected session caps: %d/%d",
			cfg.Cache.MaxSessionsInMemory, cfg.Cache.MaxItemsPerSession)
	}
	if cfg.MemoryBudgetBytes() != 512<<20 {
		t.Errorf("expected 512MB memory budget, got %d", cfg.MemoryBudgetBytes())
	}
	if cfg.DiskBudgetBytes() != 10<<30 {
		t.Errorf("expected 10GB disk budget, got %d", cfg.DiskBudgetBytes())
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("expected local backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
cache:
  memory_ttl: 2h
  memory_budget: 256MB
  max_sessions_in_memory: 10
storage:
  backend: s3
  s3:
    bucket: dscache-test
    region: eu-west-1
server:
  listen: "0.0.0.0:9090"
logging:
  level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Cache.MemoryTTL != 2*time.Hour {
		t.Errorf("expected 2h, got %v", cfg.Cache.MemoryTTL)
	}
	if cfg.MemoryBudgetBytes() != 256<<20 {
		t.Errorf("expected 256MB, got %d", cfg.MemoryBudgetBytes())
	}
	if cfg.Cache.MaxSessionsInMemory != 10 {
		t.Errorf("expected 10 sessions, got %d", cfg.Cache.MaxSessionsInMemory)
	}
	// Values absent from the file keep their defaults.
	if cfg.Cache.MaxItemsPerSession != 50 {
		t.Errorf("expected default item cap, got %d", cfg.Cache.MaxItemsPerSession)
	}
	if cfg.Storage.Backend != "s3" || cfg.Storage.S3.Bucket != "dscache-test" {
		t.Errorf("s3 settings not applied: %+v", cfg.Storage)
	}
	if cfg.Server.Listen != "0.0.0.0:9090" {
		t.Errorf("listen not applied: %q", cfg.Server.Listen)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DSCACHE_MEMORY_TTL", "90m")
	t.Setenv("DSCACHE_MEMORY_BUDGET", "64MB")
	t.Setenv("DSCACHE_MAX_SESSIONS_IN_MEMORY", "7")
	t.Setenv("DSCACHE_LISTEN", "127.0.0.1:7777")
	t.Setenv("DSCACHE_LOG_LEVEL", "warn")

	cfg := NewDefault()
	cfg.LoadFromEnv()

	if cfg.Cache.MemoryTTL != 90*time.Minute {
		t.Errorf("expected 90m, got %v", cfg.Cache.MemoryTTL)
	}
	if cfg.MemoryBudgetBytes() != 64<<20 {
		t.Errorf("expected 64MB, got %d", cfg.MemoryBudgetBytes())
	}
	if cfg.Cache.MaxSessionsInMemory != 7 {
		t.Errorf("expected 7, got %d", cfg.Cache.MaxSessionsInMemory)
	}
	if cfg.Server.Listen != "127.0.0.1:7777" {
		t.Errorf("expected overridden listen, got %q", cfg.Server.Listen)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected warn, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero memory ttl", func(c *Configuration) { c.Cache.MemoryTTL = 0 }},
		{"zero disk ttl", func(c *Configuration) { c.Cache.DiskTTL = 0 }},
		{"zero session cap", func(c *Configuration) { c.Cache.MaxSessionsInMemory = 0 }},
		{"zero item cap", func(c *Configuration) { c.Cache.MaxItemsPerSession = 0 }},
		{"threshold above one", func(c *Configuration) { c.Cache.MemoryPressureThreshold = 1.5 }},
		{"threshold at zero", func(c *Configuration) { c.Cache.DiskPressureThreshold = 0 }},
		{"bad memory budget", func(c *Configuration) { c.Cache.MemoryBudget = "lots" }},
		{"zero sweep interval", func(c *Configuration) { c.Cache.SweepInterval = 0 }},
		{"unknown backend", func(c *Configuration) { c.Storage.Backend = "tape" }},
		{"local without directory", func(c *Configuration) {
			c.Storage.Backend = "local"
			c.Storage.CacheDirectory = ""
		}},
		{"s3 without bucket", func(c *Configuration) { c.Storage.Backend = "s3" }},
		{"empty listen", func(c *Configuration) { c.Server.Listen = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"512B", 512},
		{"1KB", 1 << 10},
		{"512MB", 512 << 20},
		{"10GB", 10 << 30},
		{"1TB", 1 << 40},
		{"1.5GB", 1536 << 20},
		{" 2 MB ", 2 << 20},
		{"2mb", 2 << 20},
	}
	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		if err != nil {
			t.Errorf("ParseSize(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "abc", "-5MB", "MB"} {
		if _, err := ParseSize(bad); err == nil {
			t.Errorf("ParseSize(%q) should fail", bad)
		}
	}
}

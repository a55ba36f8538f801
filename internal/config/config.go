// Package config loads and validates the dscache configuration from
// YAML files and DSCACHE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dscache/dscache/internal/backend"
	"github.com/dscache/dscache/internal/circuit"
)

// Configuration is the complete application configuration, supplied
// once at construction.
type Configuration struct {
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// CacheConfig holds the tiering parameters.
type CacheConfig struct {
	MemoryTTL               time.Duration `yaml:"memory_ttl"`
	DiskTTL                 time.Duration `yaml:"disk_ttl"`
	MaxSessionsInMemory     int           `yaml:"max_sessions_in_memory"`
	MaxItemsPerSession      int           `yaml:"max_items_per_session"`
	MemoryPressureThreshold float64       `yaml:"memory_pressure_threshold"`
	DiskPressureThreshold   float64       `yaml:"disk_pressure_threshold"`
	MemoryBudget            string        `yaml:"memory_budget"`
	DiskBudget              string        `yaml:"disk_budget"`
	SweepInterval           time.Duration `yaml:"sweep_interval"`
	LazyLoadEviction        bool          `yaml:"lazy_load_eviction"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend        string           `yaml:"backend"`
	CacheDirectory string           `yaml:"cache_directory"`
	S3             backend.S3Config `yaml:"s3"`
	Breaker        circuit.Config   `yaml:"breaker"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file"`
}

// MetricsConfig configures the Prometheus recorder.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with the documented defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Cache: CacheConfig{
			MemoryTTL:               5 * time.Hour,
			DiskTTL:                 7 * 24 * time.Hour,
			MaxSessionsInMemory:     100,
			MaxItemsPerSession:      50,
			MemoryPressureThreshold: 0.90,
			DiskPressureThreshold:   0.90,
			MemoryBudget:            "512MB",
			DiskBudget:              "10GB",
			SweepInterval:           5 * time.Minute,
			LazyLoadEviction:        true,
		},
		Storage: StorageConfig{
			Backend:        "local",
			CacheDirectory: filepath.Join(os.TempDir(), "dscache"),
			S3: backend.S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
			Breaker: circuit.DefaultConfig(),
		},
		Server: ServerConfig{
			Listen:       "localhost:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "dscache",
		},
	}
}

// LoadFromFile merges a YAML file over the current configuration.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv merges DSCACHE_* environment variables over the current
// configuration.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("DSCACHE_MEMORY_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.MemoryTTL = d
		}
	}
	if val := os.Getenv("DSCACHE_DISK_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DiskTTL = d
		}
	}
	if val := os.Getenv("DSCACHE_MAX_SESSIONS_IN_MEMORY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxSessionsInMemory = n
		}
	}
	if val := os.Getenv("DSCACHE_MAX_ITEMS_PER_SESSION"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxItemsPerSession = n
		}
	}
	if val := os.Getenv("DSCACHE_MEMORY_BUDGET"); val != "" {
		c.Cache.MemoryBudget = val
	}
	if val := os.Getenv("DSCACHE_DISK_BUDGET"); val != "" {
		c.Cache.DiskBudget = val
	}
	if val := os.Getenv("DSCACHE_SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.SweepInterval = d
		}
	}
	if val := os.Getenv("DSCACHE_CACHE_DIRECTORY"); val != "" {
		c.Storage.CacheDirectory = val
	}
	if val := os.Getenv("DSCACHE_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = val
	}
	if val := os.Getenv("DSCACHE_S3_BUCKET"); val != "" {
		c.Storage.S3.Bucket = val
	}
	if val := os.Getenv("DSCACHE_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("DSCACHE_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("DSCACHE_LISTEN"); val != "" {
		c.Server.Listen = val
	}
	if val := os.Getenv("DSCACHE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Configuration) Validate() error {
	if c.Cache.MemoryTTL <= 0 {
		return fmt.Errorf("cache.memory_ttl must be positive")
	}
	if c.Cache.DiskTTL <= 0 {
		return fmt.Errorf("cache.disk_ttl must be positive")
	}
	if c.Cache.MaxSessionsInMemory <= 0 {
		return fmt.Errorf("cache.max_sessions_in_memory must be positive")
	}
	if c.Cache.MaxItemsPerSession <= 0 {
		return fmt.Errorf("cache.max_items_per_session must be positive")
	}
	if c.Cache.MemoryPressureThreshold <= 0 || c.Cache.MemoryPressureThreshold > 1 {
		return fmt.Errorf("cache.memory_pressure_threshold must be in (0, 1]")
	}
	if c.Cache.DiskPressureThreshold <= 0 || c.Cache.DiskPressureThreshold > 1 {
		return fmt.Errorf("cache.disk_pressure_threshold must be in (0, 1]")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive")
	}
	if _, err := ParseSize(c.Cache.MemoryBudget); err != nil {
		return fmt.Errorf("cache.memory_budget: %w", err)
	}
	if _, err := ParseSize(c.Cache.DiskBudget); err != nil {
		return fmt.Errorf("cache.disk_budget: %w", err)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.CacheDirectory == "" {
			return fmt.Errorf("storage.cache_directory must be set for the local backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be \"local\" or \"s3\", got %q", c.Storage.Backend)
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must be set")
	}
	return nil
}

// MemoryBudgetBytes returns the parsed memory byte budget.
func (c *Configuration) MemoryBudgetBytes() int64 {
	n, _ := ParseSize(c.Cache.MemoryBudget)
	return n
}

// DiskBudgetBytes returns the parsed disk byte budget.
func (c *Configuration) DiskBudgetBytes() int64 {
	n, _ := ParseSize(c.Cache.DiskBudget)
	return n
}

// ParseSize parses human-readable sizes like "512MB", "10GB", or "1024"
// (bytes) into a byte count.
func ParseSize(s string) (int64, error) {
	str := strings.TrimSpace(strings.ToUpper(s))
	if str == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(str, "TB"):
		multiplier = 1 << 40
		str = strings.TrimSuffix(str, "TB")
	case strings.HasSuffix(str, "GB"):
		multiplier = 1 << 30
		str = strings.TrimSuffix(str, "GB")
	case strings.HasSuffix(str, "MB"):
		multiplier = 1 << 20
		str = strings.TrimSuffix(str, "MB")
	case strings.HasSuffix(str, "KB"):
		multiplier = 1 << 10
		str = strings.TrimSuffix(str, "KB")
	case strings.HasSuffix(str, "B"):
		str = strings.TrimSuffix(str, "B")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int64(value * float64(multiplier)), nil
}

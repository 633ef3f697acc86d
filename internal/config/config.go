package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/kendall-hawk/tiercache/internal/cache"
)

// Configuration represents the complete tiercache configuration
type Configuration struct {
	Cache      CacheConfig      `yaml:"cache"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// CacheConfig represents memory-tier and lifecycle settings
type CacheConfig struct {
	MaxMemoryEntries int           `yaml:"max_memory_entries"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig represents persistent-tier settings
type StorageConfig struct {
	Namespace   string `yaml:"namespace"`
	Directory   string `yaml:"directory"`
	MaxEntries  int    `yaml:"max_entries"`
	MaxSize     string `yaml:"max_size"`
	Compression bool   `yaml:"compression"`
}

// MonitoringConfig represents metrics exposition settings
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with the documented defaults
func NewDefault() *Configuration {
	return &Configuration{
		Cache: CacheConfig{
			MaxMemoryEntries: 50,
			DefaultTTL:       time.Hour,
			CleanupInterval:  5 * time.Minute,
		},
		Storage: StorageConfig{
			Namespace:   "learner_cache",
			MaxEntries:  200,
			MaxSize:     "16MB",
			Compression: true,
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Port:    8080,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults, applies
// environment overrides and validates the result
func Load(filename string) (*Configuration, error) {
	c := NewDefault()

	if filename != "" {
		if err := c.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	c.LoadFromEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile loads configuration from a YAML file
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

// LoadFromEnv applies TIERCACHE_* environment variable overrides
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("TIERCACHE_MAX_MEMORY_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxMemoryEntries = n
		}
	}
	if val := os.Getenv("TIERCACHE_DEFAULT_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DefaultTTL = d
		}
	}
	if val := os.Getenv("TIERCACHE_CLEANUP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.CleanupInterval = d
		}
	}
	if val := os.Getenv("TIERCACHE_NAMESPACE"); val != "" {
		c.Storage.Namespace = val
	}
	if val := os.Getenv("TIERCACHE_STORAGE_DIR"); val != "" {
		c.Storage.Directory = val
	}
	if val := os.Getenv("TIERCACHE_STORAGE_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Storage.MaxEntries = n
		}
	}
	if val := os.Getenv("TIERCACHE_STORAGE_MAX_SIZE"); val != "" {
		c.Storage.MaxSize = val
	}
	if val := os.Getenv("TIERCACHE_COMPRESSION"); val != "" {
		c.Storage.Compression = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("TIERCACHE_METRICS_ENABLED"); val != "" {
		c.Monitoring.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("TIERCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Port = port
		}
	}
}

// Validate checks the configuration and clamps out-of-range values to the
// documented bounds rather than rejecting them
func (c *Configuration) Validate() error {
	c.Cache.MaxMemoryEntries = clamp(c.Cache.MaxMemoryEntries, 50, 10, 200)
	c.Storage.MaxEntries = clamp(c.Storage.MaxEntries, 200, 50, 1000)

	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = time.Hour
	} else if c.Cache.DefaultTTL < time.Minute {
		c.Cache.DefaultTTL = time.Minute
	}

	if c.Cache.CleanupInterval <= 0 {
		c.Cache.CleanupInterval = 5 * time.Minute
	} else if c.Cache.CleanupInterval < 30*time.Second {
		c.Cache.CleanupInterval = 30 * time.Second
	}

	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "learner_cache"
	}

	if c.Storage.MaxSize != "" {
		if _, err := ParseSize(c.Storage.MaxSize); err != nil {
			return fmt.Errorf("invalid storage max_size: %w", err)
		}
	}

	if c.Monitoring.Enabled {
		if c.Monitoring.Port <= 0 || c.Monitoring.Port > 65535 {
			return fmt.Errorf("invalid monitoring port: %d", c.Monitoring.Port)
		}
		if c.Monitoring.Path == "" {
			c.Monitoring.Path = "/metrics"
		}
	}

	return nil
}

// CacheOptions converts the configuration into cache construction options
func (c *Configuration) CacheOptions() *cache.Options {
	var maxBytes int64
	if c.Storage.MaxSize != "" {
		if size, err := ParseSize(c.Storage.MaxSize); err == nil {
			maxBytes = size
		}
	}

	return &cache.Options{
		MaxMemorySize:      c.Cache.MaxMemoryEntries,
		MaxStorageSize:     c.Storage.MaxEntries,
		MaxStorageBytes:    maxBytes,
		DefaultTTL:         c.Cache.DefaultTTL,
		CleanupInterval:    c.Cache.CleanupInterval,
		DisableCompression: !c.Storage.Compression,
		Namespace:          c.Storage.Namespace,
		StorageDir:         c.Storage.Directory,
	}
}

// ParseSize parses human-readable sizes like "512KB" or "16MB" into bytes
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %d", value)
	}
	return value * multiplier, nil
}

func clamp(v, def, lo, hi int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package treestore

import (
	"errors"
	"fmt"
	"time"
)

// Config holds configuration options for a store Database and its backend.
type Config struct {
	// Backend specifies the storage backend to use ("memory", "pebble", "leveldb")
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Path specifies the file system path for disk-backed backends
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// CacheSize is the maximum number of entries held by the positive cache
	CacheSize int `json:"cache_size" yaml:"cache_size" mapstructure:"cache_size"`

	// NegativeCacheTTL bounds how long a known-missing key is remembered
	NegativeCacheTTL time.Duration `json:"negative_cache_ttl" yaml:"negative_cache_ttl" mapstructure:"negative_cache_ttl"`

	// NegativeCacheSize is the maximum number of known-missing keys tracked
	NegativeCacheSize int `json:"negative_cache_size" yaml:"negative_cache_size" mapstructure:"negative_cache_size"`

	// Compression enables transparent lz4 compression of stored values
	// on backends that support it
	Compression bool `json:"compression" yaml:"compression" mapstructure:"compression"`

	// CreateIfMissing controls whether a disk backend creates its directory
	CreateIfMissing bool `json:"create_if_missing" yaml:"create_if_missing" mapstructure:"create_if_missing"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:           "pebble",
		Path:              "./treestore",
		CacheSize:         100000,
		NegativeCacheTTL:  5 * time.Minute,
		NegativeCacheSize: 100000,
		Compression:       true,
		CreateIfMissing:   true,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return errors.New("backend must be specified")
	}
	if !IsBackendAvailable(c.Backend) {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if c.Backend != "memory" && c.Path == "" {
		return errors.New("path must be specified for disk backends")
	}
	if c.CacheSize <= 0 {
		return errors.New("cache_size must be positive")
	}
	if c.NegativeCacheTTL < 0 {
		return errors.New("negative_cache_ttl must be non-negative")
	}
	if c.NegativeCacheSize < 0 {
		return errors.New("negative_cache_size must be non-negative")
	}
	return nil
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf(`TreeStore Configuration:
  Backend: %s
  Path: %s
  Cache: %d items
  Negative Cache: %d items, TTL %v
  Compression: %t`,
		c.Backend, c.Path, c.CacheSize,
		c.NegativeCacheSize, c.NegativeCacheTTL, c.Compression)
}

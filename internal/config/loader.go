package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration in priority order: built-in defaults, then the
// given file (any format viper understands), then STATETRIED_-prefixed
// environment variables. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("STATETRIED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.configPath = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides bind even
// without a config file.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("durable_enabled", def.DurableEnabled)
	v.SetDefault("journal_path", def.JournalPath)
	v.SetDefault("flush_interval", def.FlushInterval)

	v.SetDefault("nodes.backend", def.Nodes.Backend)
	v.SetDefault("nodes.path", def.Nodes.Path)
	v.SetDefault("nodes.cache_size", def.Nodes.CacheSize)
	v.SetDefault("nodes.negative_cache_ttl", def.Nodes.NegativeCacheTTL)
	v.SetDefault("nodes.negative_cache_size", def.Nodes.NegativeCacheSize)
	v.SetDefault("nodes.compression", def.Nodes.Compression)
	v.SetDefault("nodes.create_if_missing", def.Nodes.CreateIfMissing)

	v.SetDefault("programs.backend", def.Programs.Backend)
	v.SetDefault("programs.path", def.Programs.Path)
	v.SetDefault("programs.cache_size", def.Programs.CacheSize)
	v.SetDefault("programs.negative_cache_ttl", def.Programs.NegativeCacheTTL)
	v.SetDefault("programs.negative_cache_size", def.Programs.NegativeCacheSize)
	v.SetDefault("programs.compression", def.Programs.Compression)
	v.SetDefault("programs.create_if_missing", def.Programs.CreateIfMissing)

	v.SetDefault("durable.driver", def.Durable.Driver)
	v.SetDefault("durable.dsn", def.Durable.DSN)
	v.SetDefault("durable.max_open_conns", def.Durable.MaxOpenConns)
	v.SetDefault("durable.max_idle_conns", def.Durable.MaxIdleConns)
	v.SetDefault("durable.conn_max_lifetime", def.Durable.ConnMaxLifetime)
	v.SetDefault("durable.poll_interval", def.Durable.PollInterval)
}

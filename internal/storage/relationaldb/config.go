// Package relationaldb implements the durable writer: a pull-based
// consumer that drains closed flush batches into a SQL database and into
// the local backend, then acknowledges them.
package relationaldb

import (
	"fmt"
	"time"
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the connection and pacing settings for the durable writer.
type Config struct {
	// Driver selects the SQL driver: "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns bounds idle pooled connections.
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// PollInterval is how long the writer sleeps when no batch is waiting.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns settings suitable for a local sqlite-backed writer.
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DSN:             "file:statetried.db",
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
		PollInterval:    500 * time.Millisecond,
	}
}

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported sql driver: %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn must not be empty")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// String renders the configuration without the DSN credentials.
func (c *Config) String() string {
	return fmt.Sprintf("relationaldb{driver=%s, pool=%d/%d, poll=%s}",
		c.Driver, c.MaxOpenConns, c.MaxIdleConns, c.PollInterval)
}

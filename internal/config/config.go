// Package config loads and validates the node configuration: the tree and
// program stores, the flush pipeline, and the durable writer.
package config

import (
	"fmt"
	"time"

	"github.com/hashforge/statetried/internal/storage/relationaldb"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

// Config is the complete node configuration.
type Config struct {
	// DataDir anchors relative store and journal paths.
	DataDir string `mapstructure:"data_dir"`

	// Nodes configures the tree-node store.
	Nodes treestore.Config `mapstructure:"nodes"`

	// Programs configures the program-blob store.
	Programs treestore.Config `mapstructure:"programs"`

	// Durable configures the SQL durable writer. Disabled leaves batches
	// in the pipeline until an external consumer pulls them.
	Durable relationaldb.Config `mapstructure:"durable"`

	// DurableEnabled runs the in-process durable writer.
	DurableEnabled bool `mapstructure:"durable_enabled"`

	// JournalPath is the flush journal file; empty disables journaling.
	JournalPath string `mapstructure:"journal_path"`

	// FlushInterval auto-closes the pending batch this often; zero means
	// flushes happen only on explicit request.
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	configPath string
}

// DefaultConfig returns a runnable local configuration: pebble stores
// under ./data, sqlite durable writer, one-minute auto flush.
func DefaultConfig() *Config {
	nodes := *treestore.DefaultConfig()
	nodes.Path = "data/nodes"
	programs := *treestore.DefaultConfig()
	programs.Path = "data/programs"

	durable := *relationaldb.DefaultConfig()
	durable.DSN = "file:data/durable.db"

	return &Config{
		DataDir:        "data",
		Nodes:          nodes,
		Programs:       programs,
		Durable:        durable,
		DurableEnabled: true,
		JournalPath:    "data/flush.journal",
		FlushInterval:  time.Minute,
	}
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Nodes.Validate(); err != nil {
		return fmt.Errorf("nodes store: %w", err)
	}
	if err := c.Programs.Validate(); err != nil {
		return fmt.Errorf("programs store: %w", err)
	}
	if c.DurableEnabled {
		if err := c.Durable.Validate(); err != nil {
			return fmt.Errorf("durable writer: %w", err)
		}
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("flush_interval must not be negative, got %s", c.FlushInterval)
	}
	return nil
}

// ConfigPath reports where this configuration was loaded from; empty for
// defaults.
func (c *Config) ConfigPath() string { return c.configPath }

// String renders a single-line summary.
func (c *Config) String() string {
	return fmt.Sprintf("config{nodes=%s@%s, programs=%s@%s, durable=%v, flush=%s}",
		c.Nodes.Backend, c.Nodes.Path, c.Programs.Backend, c.Programs.Path,
		c.DurableEnabled, c.FlushInterval)
}

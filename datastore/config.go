package datastore

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config holds configuration for the Store.
type Config struct {
	// Host is the backend host.
	// Default: "localhost"
	Host string

	// Port is the backend port.
	// Default: 27017
	Port int

	// Database is the backend database holding all collections.
	// Default: "app"
	Database string

	// CounterCollection is the collection holding per-kind id counters.
	// Default: "_strata_counters"
	CounterCollection string

	// StrictIndexes selects strict index checking: queries that need a
	// composite index fail with ErrIndexMissing unless one is declared, and
	// EnsureIndexes creates declared indexes synchronously. When false,
	// queries run best-effort with whatever indexes exist.
	StrictIndexes bool

	// Logger receives the warning emitted per non-atomic transaction commit
	// and error events for allocation failures. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultConfig returns defaults for a local single-node backend.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              27017,
		Database:          "app",
		CounterCollection: "_strata_counters",
	}
}

// validate fills in defaults for unset fields.
func (c *Config) validate() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 27017
	}
	if c.Database == "" {
		c.Database = "app"
	}
	if c.CounterCollection == "" {
		c.CounterCollection = "_strata_counters"
	}
}

// uri renders the single-endpoint connection string. Multi-node addressing is
// out of scope.
func (c *Config) uri() string {
	return fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

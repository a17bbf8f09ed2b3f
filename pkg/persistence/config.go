// Package persistence implements the optional durable-storage sink for the
// memory core (spec §6 "Persistence (optional)"): an append-only operation
// log plus periodic snapshots, backed by Postgres via sqlx/lib/pq.
//
// Grounded on pkg/database/manager.go's DatabaseManager: the same
// default-filling connection-pool bootstrap (sqlx.Connect + SetMaxOpenConns/
// SetMaxIdleConns/SetConnMaxLifetime + PingContext), trimmed of the
// Ollama-specific repositories (ModelRepository, NodeRepository, ...), which
// have no analogue in this domain.
package persistence

import "time"

// Config configures the Postgres connection pool backing a Sink.
type Config struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig fills in the same defaults as the teacher's
// NewDatabaseManager.
func DefaultConfig() Config {
	return Config{
		SSLMode:         "prefer",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return c
}

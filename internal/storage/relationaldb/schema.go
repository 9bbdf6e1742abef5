package relationaldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// SQL drivers registered for database/sql.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// schemaStatements creates the three tables the writer maintains. The DDL
// is kept to the dialect subset both drivers accept.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS state_nodes (
		hash TEXT PRIMARY KEY,
		data BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS state_programs (
		hash TEXT PRIMARY KEY,
		data BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS state_roots (
		flush_id BIGINT PRIMARY KEY,
		state_root TEXT NOT NULL
	)`,
}

// open connects, applies pool settings, and bootstraps the schema.
func open(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", cfg.Driver, err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, rebind(cfg.Driver, stmt)); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrapping schema: %w", err)
		}
	}
	return db, nil
}

// rebind adapts placeholder and type syntax to the configured driver.
// Statements are written in postgres form; sqlite gets `?` placeholders
// and BLOB columns.
func rebind(driver, query string) string {
	if driver != DriverSQLite {
		return query
	}
	query = strings.ReplaceAll(query, "BYTEA", "BLOB")
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '1' && query[i+1] <= '9' {
			b.WriteByte('?')
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			i = j - 1
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

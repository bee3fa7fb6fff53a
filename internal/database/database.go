// Package database owns the projection store's connection pool and schema.
// It is a thin layer over database/sql and lib/pq rather than an ORM — the
// Projection Engine and Query API each write their own SQL against the
// *sql.DB this package opens.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and configures the pool. maxOpenConns and
// connMaxLife mirror config.DatabaseConfig.
func Open(url string, maxOpenConns int, connMaxLife time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLife)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the forward-only schemaSQL from schema.go. It is idempotent —
// every statement uses IF NOT EXISTS — so it is safe to run on every
// process start rather than requiring a separate migration step.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}

// Package database manages PostgreSQL connections and provides the data access layer.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool and provides query methods.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate runs database schema migrations.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// Application-specific lock ID to avoid collisions with other apps on the
	// same PostgreSQL instance.
	const migrationLockID int64 = 0x4F43_4F05 // "OCO" prefix + 05
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	schema := `
	CREATE TABLE IF NOT EXISTS exchanges (
		user_id        TEXT NOT NULL,
		session_id     TEXT NOT NULL,
		analysis_id    TEXT NOT NULL,
		user_query     TEXT NOT NULL,
		response       TEXT NOT NULL DEFAULT '',
		method         TEXT NOT NULL,
		output_style   TEXT NOT NULL,
		role_context   TEXT NOT NULL,
		bandwidth      TEXT NOT NULL,
		preview        TEXT NOT NULL DEFAULT '',
		perspectives   TEXT NOT NULL DEFAULT '',
		cost_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
		input_tokens   BIGINT NOT NULL DEFAULT 0,
		output_tokens  BIGINT NOT NULL DEFAULT 0,
		user_email     TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at     BIGINT NOT NULL,
		PRIMARY KEY (user_id, session_id, analysis_id)
	);

	CREATE TABLE IF NOT EXISTS user_limits (
		user_id            TEXT PRIMARY KEY,
		monthly_limit_usd  DOUBLE PRECISION NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS monthly_costs (
		user_id     TEXT NOT NULL,
		month_key   TEXT NOT NULL,
		cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, month_key)
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_session_created ON exchanges(user_id, session_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_exchanges_expires_at ON exchanges(expires_at);
	CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
	`

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

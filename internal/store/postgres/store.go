// Package postgres provides Postgres-backed store implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the stores use; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id TEXT PRIMARY KEY,
	oid TEXT NOT NULL,
	userid TEXT NOT NULL,
	cid TEXT NOT NULL,
	scale INT NOT NULL,
	max_crawl_size BIGINT NOT NULL DEFAULT 0,
	timeout_seconds BIGINT NOT NULL DEFAULT 0,
	manual BOOLEAN NOT NULL DEFAULT FALSE,
	crawler_channel TEXT NOT NULL DEFAULT '',
	storage_name TEXT NOT NULL DEFAULT '',
	ttl_seconds_after_finished BIGINT NOT NULL DEFAULT 30,
	state TEXT NOT NULL,
	stop_reason TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	bytes_stored BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS crawl_jobs_oid_idx ON crawl_jobs (oid, started_at);

CREATE TABLE IF NOT EXISTS crawl_queue (
	crawl_id TEXT NOT NULL REFERENCES crawl_jobs(id) ON DELETE CASCADE,
	pos BIGSERIAL,
	url TEXT NOT NULL,
	PRIMARY KEY (crawl_id, url)
);
CREATE INDEX IF NOT EXISTS crawl_queue_pos_idx ON crawl_queue (crawl_id, pos);
`

// Connect opens a pgx pool against dsn and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// foreign_key_violation, from the Postgres error code table.
const fkViolation = "23503"

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == fkViolation
}

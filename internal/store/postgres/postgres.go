// Package postgres is a [store.Documents] backend on PostgreSQL. Payloads are
// kept as JSONB so they can be inspected with ordinary SQL.
//
//	docs, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	s := store.New(docs)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jerryz/poems/internal/store"
)

const ddlPoemDocuments = `
CREATE TABLE IF NOT EXISTS poem_documents (
    poem_id    INTEGER      NOT NULL,
    kind       TEXT         NOT NULL,
    payload    JSONB        NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (poem_id, kind)
);
`

// Migrate creates the tables used by this package. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlPoemDocuments); err != nil {
		return fmt.Errorf("postgres store: migrate poem_documents: %w", err)
	}
	return nil
}

// Documents implements store.Documents. All methods are safe for concurrent use.
type Documents struct {
	pool *pgxpool.Pool
}

var _ store.Documents = (*Documents)(nil)

// Open connects to dsn, pings, and runs [Migrate].
func Open(ctx context.Context, dsn string) (*Documents, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Documents{pool: pool}, nil
}

// Get implements store.Documents.
func (d *Documents) Get(ctx context.Context, poemID int, kind string) ([]byte, bool, error) {
	const q = `SELECT payload::text FROM poem_documents WHERE poem_id = $1 AND kind = $2`

	var payload string
	err := d.pool.QueryRow(ctx, q, poemID, kind).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres store: get: %w", err)
	}
	return []byte(payload), true, nil
}

// Put implements store.Documents.
func (d *Documents) Put(ctx context.Context, poemID int, kind string, payload []byte) error {
	const q = `
		INSERT INTO poem_documents (poem_id, kind, payload, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (poem_id, kind) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

	if _, err := d.pool.Exec(ctx, q, poemID, kind, string(payload)); err != nil {
		return fmt.Errorf("postgres store: put: %w", err)
	}
	return nil
}

// Ping implements store.Documents.
func (d *Documents) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Close implements store.Documents.
func (d *Documents) Close() error {
	d.pool.Close()
	return nil
}

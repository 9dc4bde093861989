// Package sqlite is a [store.Documents] backend on a single SQLite file,
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jerryz/poems/internal/store"
)

const schema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS poem_documents (
	poem_id    INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (poem_id, kind)
);
`

// Documents implements store.Documents.
type Documents struct {
	db *sql.DB
}

var _ store.Documents = (*Documents)(nil)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Documents, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create database directory: %w", err)
		}
	}

	// WAL lets the HTTP handlers read while a stream finalizer writes.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return &Documents{db: db}, nil
}

// Get implements store.Documents.
func (d *Documents) Get(ctx context.Context, poemID int, kind string) ([]byte, bool, error) {
	const q = `SELECT payload FROM poem_documents WHERE poem_id = ? AND kind = ?`
	var payload string
	err := d.db.QueryRowContext(ctx, q, poemID, kind).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite store: get: %w", err)
	}
	return []byte(payload), true, nil
}

// Put implements store.Documents.
func (d *Documents) Put(ctx context.Context, poemID int, kind string, payload []byte) error {
	const q = `
		INSERT INTO poem_documents (poem_id, kind, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (poem_id, kind) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at`
	if _, err := d.db.ExecContext(ctx, q, poemID, kind, string(payload), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("sqlite store: put: %w", err)
	}
	return nil
}

// Ping implements store.Documents.
func (d *Documents) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close implements store.Documents.
func (d *Documents) Close() error {
	return d.db.Close()
}

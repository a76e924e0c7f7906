// Package sqlite is a single-file implementation of the ticket and message stores for
// local development and tests. Similarity search is brute force over the stored
// vectors.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"nixo.app/triage/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
    id                INTEGER PRIMARY KEY,
    title             TEXT    NOT NULL,
    category          TEXT    NOT NULL,
    status            TEXT    NOT NULL DEFAULT 'open',
    priority          TEXT    NOT NULL DEFAULT 'medium',
    canonical_key     TEXT,
    embedding         TEXT,
    summary_embedding TEXT,
    assignees         TEXT    NOT NULL DEFAULT '[]',
    reporter_id       TEXT,
    reporter_name     TEXT,
    summary           TEXT    NOT NULL DEFAULT '{}',
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS tickets_open_canonical_key_uidx
    ON tickets (canonical_key)
    WHERE status = 'open' AND canonical_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS tickets_status_updated_at_idx ON tickets (status, updated_at);

CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY,
    ticket_id       INTEGER NOT NULL REFERENCES tickets (id),
    channel_id      TEXT    NOT NULL,
    ts              TEXT    NOT NULL,
    thread_ts       TEXT    NOT NULL,
    user_id         TEXT    NOT NULL,
    user_name       TEXT,
    workspace_id    TEXT,
    source_event_id TEXT,
    text            TEXT    NOT NULL,
    permalink       TEXT,
    is_context_only INTEGER NOT NULL DEFAULT 0,
    is_relevant     INTEGER NOT NULL DEFAULT 0,
    category        TEXT    NOT NULL,
    confidence      REAL    NOT NULL DEFAULT 0,
    signals         TEXT    NOT NULL DEFAULT '[]',
    canonical_key   TEXT,
    embedding       TEXT,
    created_at      INTEGER NOT NULL,
    UNIQUE (channel_id, ts)
);

CREATE INDEX IF NOT EXISTS messages_ticket_idx ON messages (ticket_id, created_at);
CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages (channel_id, thread_ts);
CREATE INDEX IF NOT EXISTS messages_channel_idx ON messages (channel_id, created_at);
`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a store.Provider and store.TxRunner over one SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema. Use ":memory:"
// for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory database only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Tickets() store.TicketStore {
	return &ticketStore{q: d.db}
}

func (d *DB) Messages() store.MessageStore {
	return &messageStore{q: d.db}
}

func (d *DB) WithTx(ctx context.Context, fn func(stores store.Provider) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(txStores{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type txStores struct {
	tx *sql.Tx
}

func (s txStores) Tickets() store.TicketStore   { return &ticketStore{q: s.tx} }
func (s txStores) Messages() store.MessageStore { return &messageStore{q: s.tx} }

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return fmt.Errorf("%w: %s", store.ErrConflict, sqliteErr.Error())
	}
	return err
}

func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

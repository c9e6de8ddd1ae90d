// Package storage is the relational persistence layer: a single SQLite
// database (WAL mode, foreign keys on) holding messages, attachments,
// chunks, working memory, alert rules, and the trigger dedupe ledger.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB opened against the engine's sqlite file with the
// pragmas and schema the rest of the package depends on already applied.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path, applies
// the WAL/foreign-key pragmas, and runs the idempotent schema migration.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// sqlite only tolerates one writer; serialize access the way a
	// single-writer WAL-mode database is meant to be used.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("storage: enable WAL: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("storage: enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the underlying *sql.DB for callers (e.g. golang-migrate's
// sql driver wrapper, or ad-hoc admin queries from the CLI) that need it
// directly.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Tx is a single migration/transactional unit of work.
type Tx struct {
	tx *sql.Tx
}

// RunInTx runs fn inside a transaction, committing on nil return and
// rolling back (running an integrity check for diagnostics) otherwise.
func (d *DB) RunInTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("storage: rollback after %w failed: %v", err, rbErr)
		}
		if _, chkErr := d.conn.ExecContext(ctx, "PRAGMA integrity_check"); chkErr != nil {
			return fmt.Errorf("storage: %w (integrity check also failed: %v)", err, chkErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

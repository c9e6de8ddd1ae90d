package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate applies the versioned base schema (embedded SQL migrations),
// then adds any columns a prior schema version didn't have yet. It is
// safe to call on every startup — additive only, never destructive.
func (d *DB) migrate(ctx context.Context) error {
	if err := d.runMigrations(); err != nil {
		return err
	}
	return d.ensureAdditiveColumns(ctx)
}

// runMigrations brings the database up to the latest embedded migration
// version. Each migration file may hold multiple statements; the driver
// records the applied version in schema_migrations.
func (d *DB) runMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(d.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("storage: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("storage: migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}
	return nil
}

// ensureAdditiveColumns adds in place any columns introduced after a
// database was first created, so an old database file keeps working
// without a destructive rebuild.
func (d *DB) ensureAdditiveColumns(ctx context.Context) error {
	if err := d.ensureColumns(ctx, "messages", map[string]string{
		"body_markdown":       "TEXT",
		"extracted_signature": "TEXT",
		"thread_summary":      "TEXT",
		"suggested_action":    "TEXT",
		"web_link":            "TEXT",
		"synced_at":           "DATETIME",
	}); err != nil {
		return err
	}

	if err := d.ensureColumns(ctx, "wm_threads", map[string]string{
		"user_is_cc":        "BOOLEAN DEFAULT 0",
		"reply_deadline":    "DATETIME",
		"labels_json":       "TEXT",
		"project_refs_json": "TEXT",
		"latest_message_id": "TEXT",
		"web_link":          "TEXT",
	}); err != nil {
		return err
	}

	if err := d.ensureColumns(ctx, "wm_contacts", map[string]string{
		"organization": "TEXT",
		"relationship": "TEXT DEFAULT 'unknown'",
		"is_internal":  "BOOLEAN DEFAULT 0",
	}); err != nil {
		return err
	}

	if err := d.ensureColumns(ctx, "wm_commitments", map[string]string{
		"to_whom": "TEXT",
	}); err != nil {
		return err
	}

	if err := d.ensureColumns(ctx, "facts", map[string]string{
		"context":           "TEXT",
		"entity_normalized": "TEXT",
		"confidence":        "REAL",
		"due_date":          "DATETIME",
	}); err != nil {
		return err
	}

	if err := d.ensureColumns(ctx, "alert_rules", map[string]string{
		"channel": "TEXT",
		"target":  "TEXT",
	}); err != nil {
		return err
	}

	return d.ensureColumns(ctx, "alert_triggers", map[string]string{
		"match_reason": "TEXT",
	})
}

// ensureColumns adds any of the named columns to table that aren't already
// present, per PRAGMA table_info.
func (d *DB) ensureColumns(ctx context.Context, table string, columns map[string]string) error {
	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("storage: table_info(%s): %w", table, err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan table_info(%s): %w", table, err)
		}
		existing[name] = true
	}
	rows.Close()

	for name, coltype := range columns {
		if existing[name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, coltype)
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: add column %s.%s: %w", table, name, err)
		}
	}
	return nil
}

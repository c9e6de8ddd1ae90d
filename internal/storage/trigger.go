package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// DedupeSeen checks the trigger dedupe ledger for a key, returning the
// trigger id previously written under it if present.
func DedupeSeen(ctx context.Context, e execer, dedupeKey string) (string, bool, error) {
	var triggerID string
	err := e.QueryRowContext(ctx, `SELECT trigger_id FROM trigger_dedupe WHERE dedupe_key = ?`, dedupeKey).Scan(&triggerID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: dedupe seen %s: %w", dedupeKey, err)
	}
	return triggerID, true, nil
}

// RecordDedupe registers a dedupe key against the trigger id that claimed
// it. Relies on the primary key to make a racing double-write fail.
func RecordDedupe(ctx context.Context, e execer, dedupeKey, triggerID string) error {
	_, err := e.ExecContext(ctx, `INSERT INTO trigger_dedupe (dedupe_key, trigger_id) VALUES (?, ?)`, dedupeKey, triggerID)
	if err != nil {
		return fmt.Errorf("storage: record dedupe %s: %w", dedupeKey, err)
	}
	return nil
}

// DeleteDedupe releases a dedupe key, but only if it is still held by the
// given trigger id — the emitter's rollback when the outbox file write
// fails after the key was claimed. A key claimed by a different trigger
// is left alone.
func DeleteDedupe(ctx context.Context, e execer, dedupeKey, triggerID string) error {
	_, err := e.ExecContext(ctx, `DELETE FROM trigger_dedupe WHERE dedupe_key = ? AND trigger_id = ?`, dedupeKey, triggerID)
	if err != nil {
		return fmt.Errorf("storage: delete dedupe %s: %w", dedupeKey, err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncState tracks per-folder delta-sync progress.
type SyncState struct {
	FolderID       string
	DeltaLink      string
	LastSyncAt     time.Time
	SyncType       string // "full" or "delta"
	MessagesSynced int
}

// GetSyncState returns the stored sync state for a folder, or nil if the
// folder has never been synced.
func GetSyncState(ctx context.Context, e execer, folderID string) (*SyncState, error) {
	row := e.QueryRowContext(ctx, `
		SELECT folder_id, delta_link, last_sync_at, sync_type, messages_synced
		FROM sync_state WHERE folder_id = ?`, folderID)

	var s SyncState
	var deltaLink sql.NullString
	var lastSync sql.NullTime
	err := row.Scan(&s.FolderID, &deltaLink, &lastSync, &s.SyncType, &s.MessagesSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get sync state %s: %w", folderID, err)
	}
	s.DeltaLink = deltaLink.String
	s.LastSyncAt = lastSync.Time
	return &s, nil
}

// SaveSyncState persists the sync cursor atomically, accumulating
// messages_synced the way the replicator's cumulative counter expects
// (messages_synced = sync_state.messages_synced + incrementBy).
func SaveSyncState(ctx context.Context, e execer, folderID, deltaLink, syncType string, incrementBy int, at time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO sync_state (folder_id, delta_link, last_sync_at, sync_type, messages_synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(folder_id) DO UPDATE SET
			delta_link = excluded.delta_link,
			last_sync_at = excluded.last_sync_at,
			sync_type = excluded.sync_type,
			messages_synced = sync_state.messages_synced + excluded.messages_synced
	`, folderID, deltaLink, at, syncType, incrementBy)
	if err != nil {
		return fmt.Errorf("storage: save sync state %s: %w", folderID, err)
	}
	return nil
}

// Folder is a cached Graph mailFolder entry.
type Folder struct {
	ID             string
	DisplayName    string
	ParentFolderID string
}

// UpsertFolder caches a folder's metadata.
func UpsertFolder(ctx context.Context, e execer, f Folder) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO folders (id, display_name, parent_folder_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, parent_folder_id = excluded.parent_folder_id
	`, f.ID, f.DisplayName, f.ParentFolderID)
	if err != nil {
		return fmt.Errorf("storage: upsert folder %s: %w", f.ID, err)
	}
	return nil
}

// ListFolders returns every cached folder.
func ListFolders(ctx context.Context, e execer) ([]Folder, error) {
	rows, err := e.QueryContext(ctx, `SELECT id, display_name, parent_folder_id FROM folders`)
	if err != nil {
		return nil, fmt.Errorf("storage: list folders: %w", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		var parent sql.NullString
		if err := rows.Scan(&f.ID, &f.DisplayName, &parent); err != nil {
			return nil, fmt.Errorf("storage: scan folder: %w", err)
		}
		f.ParentFolderID = parent.String
		out = append(out, f)
	}
	return out, rows.Err()
}

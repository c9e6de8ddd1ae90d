package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Attachment is one email attachment's extraction-pipeline state.
type Attachment struct {
	ID               string
	MessageID        string
	Filename         string
	ContentType      string
	SizeBytes        int64
	ContentHash      string
	ExtractedText    string
	ExtractionStatus string // pending|success|failed|skipped|unsupported
	ExtractionError  string
	DownloadedAt      *time.Time
	ExtractedAt       *time.Time
}

// InsertAttachment registers a newly discovered attachment in pending state.
func InsertAttachment(ctx context.Context, e execer, a Attachment) error {
	if a.ExtractionStatus == "" {
		a.ExtractionStatus = "pending"
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO attachments (id, message_id, filename, content_type, size_bytes, extraction_status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, a.ID, a.MessageID, a.Filename, a.ContentType, a.SizeBytes, a.ExtractionStatus)
	if err != nil {
		return fmt.Errorf("storage: insert attachment %s: %w", a.ID, err)
	}
	return nil
}

// PendingAttachments returns attachments awaiting extraction, smallest
// first, so small, fast extractions complete before large ones under a
// shared time budget.
func PendingAttachments(ctx context.Context, e execer, limit int) ([]Attachment, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, message_id, filename, content_type, size_bytes
		FROM attachments WHERE extraction_status = 'pending'
		ORDER BY size_bytes ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: pending attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.SizeBytes); err != nil {
			return nil, fmt.Errorf("storage: scan pending attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindExtractedByHash returns the extracted_text of a previously
// successfully-processed attachment with the same content hash, excluding
// the given attachment id, for dedup-by-copy.
func FindExtractedByHash(ctx context.Context, e execer, contentHash, excludeID string) (string, bool, error) {
	row := e.QueryRowContext(ctx, `
		SELECT extracted_text FROM attachments
		WHERE content_hash = ? AND id != ? AND extracted_text IS NOT NULL
		LIMIT 1`, contentHash, excludeID)
	var text string
	err := row.Scan(&text)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: find extracted by hash: %w", err)
	}
	return text, true, nil
}

// MarkAttachmentDownloaded stamps downloaded_at once the attachment's
// bytes have been fetched, independent of how extraction then goes.
func MarkAttachmentDownloaded(ctx context.Context, e execer, id string, at time.Time) error {
	_, err := e.ExecContext(ctx, `UPDATE attachments SET downloaded_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("storage: mark attachment downloaded %s: %w", id, err)
	}
	return nil
}

// UpdateAttachmentStatus records the outcome of an extraction attempt.
func UpdateAttachmentStatus(ctx context.Context, e execer, id, status, extractedText, extractionError, contentHash string, at time.Time) error {
	_, err := e.ExecContext(ctx, `
		UPDATE attachments SET
			extraction_status = ?,
			extracted_text = ?,
			extraction_error = ?,
			content_hash = ?,
			extracted_at = ?
		WHERE id = ?
	`, status, nilIfEmpty(extractedText), nilIfEmpty(extractionError), nilIfEmpty(contentHash), at, id)
	if err != nil {
		return fmt.Errorf("storage: update attachment status %s: %w", id, err)
	}
	return nil
}

// ExtractionStats summarizes attachment processing counts by status.
func ExtractionStats(ctx context.Context, e execer) (map[string]int, error) {
	rows, err := e.QueryContext(ctx, `SELECT extraction_status, COUNT(*) FROM attachments GROUP BY extraction_status`)
	if err != nil {
		return nil, fmt.Errorf("storage: extraction stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("storage: scan extraction stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ExtractedUnchunked returns successfully-extracted attachments that have
// no chunks yet — the chunker's work queue.
func ExtractedUnchunked(ctx context.Context, e execer, limit int) ([]Attachment, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.extracted_text FROM attachments a
		WHERE a.extraction_status = 'success'
		AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.source_type = 'attachment' AND c.source_id = a.id)
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: extracted unchunked: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var extracted sql.NullString
		if err := rows.Scan(&a.ID, &a.MessageID, &extracted); err != nil {
			return nil, fmt.Errorf("storage: scan extracted unchunked: %w", err)
		}
		a.ExtractedText = extracted.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttachmentByID fetches a single attachment's metadata.
func AttachmentByID(ctx context.Context, e execer, id string) (*Attachment, error) {
	row := e.QueryRowContext(ctx, `
		SELECT id, message_id, filename, content_type, size_bytes
		FROM attachments WHERE id = ?`, id)
	var a Attachment
	err := row.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.SizeBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: attachment by id %s: %w", id, err)
	}
	return &a, nil
}

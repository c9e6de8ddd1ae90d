package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Message is a synced mailbox message, one row per Graph message id.
type Message struct {
	ID                string
	ConversationID    string
	InternetMessageID string
	Subject           string
	Sender            string
	ToEmails          []string
	CCEmails          []string
	ReceivedAt        time.Time
	BodyPreview       string
	BodyText          string
	BodyHTML          string
	BodyHash          string
	BodyMarkdown      string
	HasAttachments    bool
	IsRead            bool
	FolderID          string
	Etag              string
	Category          string
	ProcessedAt       *time.Time
	WebLinkURL        string
}

// UpsertMessage inserts a message or, if it already exists, updates its
// mutable fields while preserving body_text/body_html/body_hash via
// COALESCE when the incoming sync page didn't fetch the body (delta pages
// frequently omit body content for unchanged messages).
func UpsertMessage(ctx context.Context, e execer, m Message) error {
	toJSON, err := json.Marshal(m.ToEmails)
	if err != nil {
		return fmt.Errorf("storage: marshal to_emails: %w", err)
	}
	ccJSON, err := json.Marshal(m.CCEmails)
	if err != nil {
		return fmt.Errorf("storage: marshal cc_emails: %w", err)
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, internet_message_id, subject, sender,
			to_emails, cc_emails, received_at, body_preview, body_text,
			body_html, body_hash, has_attachments, is_read, folder_id, etag,
			web_link, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			internet_message_id = excluded.internet_message_id,
			subject = excluded.subject,
			sender = excluded.sender,
			to_emails = excluded.to_emails,
			cc_emails = excluded.cc_emails,
			received_at = excluded.received_at,
			body_preview = excluded.body_preview,
			body_text = COALESCE(excluded.body_text, messages.body_text),
			body_html = COALESCE(excluded.body_html, messages.body_html),
			body_hash = COALESCE(excluded.body_hash, messages.body_hash),
			has_attachments = excluded.has_attachments,
			is_read = excluded.is_read,
			folder_id = excluded.folder_id,
			etag = excluded.etag,
			web_link = COALESCE(excluded.web_link, messages.web_link),
			synced_at = CURRENT_TIMESTAMP
	`,
		m.ID, m.ConversationID, m.InternetMessageID, m.Subject, m.Sender,
		string(toJSON), string(ccJSON), m.ReceivedAt, m.BodyPreview, nilIfEmpty(m.BodyText),
		nilIfEmpty(m.BodyHTML), nilIfEmpty(m.BodyHash), m.HasAttachments, m.IsRead, m.FolderID, m.Etag,
		nilIfEmpty(m.WebLinkURL),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert message %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMessage removes a message and cascades to its attachments, labels,
// and reply-tracking row (chunks are cleaned up separately by source_id
// since chunks has no foreign key to messages — a chunk may source from
// an attachment instead).
func DeleteMessage(ctx context.Context, e execer, id string) error {
	if _, err := e.ExecContext(ctx, `DELETE FROM chunks WHERE source_type = 'email' AND source_id = ?`, id); err != nil {
		return fmt.Errorf("storage: delete message chunks %s: %w", id, err)
	}
	if _, err := e.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage: delete message %s: %w", id, err)
	}
	return nil
}

// GetMessage fetches a single message by id.
func GetMessage(ctx context.Context, e execer, id string) (*Message, error) {
	row := e.QueryRowContext(ctx, `
		SELECT id, conversation_id, internet_message_id, subject, sender,
			to_emails, cc_emails, received_at, body_preview, body_text,
			body_html, body_hash, body_markdown, has_attachments, is_read, folder_id, etag,
			category, processed_at, web_link
		FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (*Message, error) {
	var m Message
	var toJSON, ccJSON string
	var bodyText, bodyHTML, bodyHash, bodyMarkdown, category, webLink sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.ConversationID, &m.InternetMessageID, &m.Subject, &m.Sender,
		&toJSON, &ccJSON, &m.ReceivedAt, &m.BodyPreview, &bodyText,
		&bodyHTML, &bodyHash, &bodyMarkdown, &m.HasAttachments, &m.IsRead, &m.FolderID, &m.Etag,
		&category, &processedAt, &webLink,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan message: %w", err)
	}

	_ = json.Unmarshal([]byte(toJSON), &m.ToEmails)
	_ = json.Unmarshal([]byte(ccJSON), &m.CCEmails)
	m.BodyText = bodyText.String
	m.BodyHTML = bodyHTML.String
	m.BodyHash = bodyHash.String
	m.BodyMarkdown = bodyMarkdown.String
	m.Category = category.String
	m.WebLinkURL = webLink.String
	if processedAt.Valid {
		m.ProcessedAt = &processedAt.Time
	}
	return &m, nil
}

// MarkProcessed records the triage category and processed_at timestamp.
func MarkProcessed(ctx context.Context, e execer, messageID, category string, at time.Time) error {
	_, err := e.ExecContext(ctx, `UPDATE messages SET category = ?, processed_at = ? WHERE id = ?`, category, at, messageID)
	if err != nil {
		return fmt.Errorf("storage: mark processed %s: %w", messageID, err)
	}
	return nil
}

// UpdateMessageWMFields persists the working-memory updater's derived
// fields on a message. body_markdown and extracted_signature use
// COALESCE so a later pass with nothing new to say doesn't blank out a
// prior result; thread_summary and suggested_action are always replaced
// with the latest analysis.
func UpdateMessageWMFields(ctx context.Context, e execer, messageID string, bodyMarkdown, signature, threadSummary, suggestedAction string) error {
	_, err := e.ExecContext(ctx, `
		UPDATE messages SET
			body_markdown = COALESCE(?, body_markdown),
			extracted_signature = COALESCE(?, extracted_signature),
			thread_summary = ?,
			suggested_action = ?
		WHERE id = ?
	`, nilIfEmpty(bodyMarkdown), nilIfEmpty(signature), nilIfEmpty(threadSummary), nilIfEmpty(suggestedAction), messageID)
	if err != nil {
		return fmt.Errorf("storage: update wm fields %s: %w", messageID, err)
	}
	return nil
}

// ListUnprocessed returns messages that haven't been triaged yet, oldest first.
func ListUnprocessed(ctx context.Context, e execer, limit int) ([]Message, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, conversation_id, internet_message_id, subject, sender,
			to_emails, cc_emails, received_at, body_preview, body_text,
			body_html, body_hash, has_attachments, is_read, folder_id, etag
		FROM messages WHERE processed_at IS NULL ORDER BY received_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list unprocessed: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var toJSON, ccJSON string
		var bodyText, bodyHTML, bodyHash sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.InternetMessageID, &m.Subject, &m.Sender,
			&toJSON, &ccJSON, &m.ReceivedAt, &m.BodyPreview, &bodyText,
			&bodyHTML, &bodyHash, &m.HasAttachments, &m.IsRead, &m.FolderID, &m.Etag,
		); err != nil {
			return nil, fmt.Errorf("storage: scan unprocessed: %w", err)
		}
		_ = json.Unmarshal([]byte(toJSON), &m.ToEmails)
		_ = json.Unmarshal([]byte(ccJSON), &m.CCEmails)
		m.BodyText = bodyText.String
		m.BodyHTML = bodyHTML.String
		m.BodyHash = bodyHash.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageFTSHit is one BM25-ranked full-text hit over the message lexical
// index (subject, body, sender).
type MessageFTSHit struct {
	MessageID string
	Subject   string
	Sender    string
	Score     float64
}

// SearchMessagesFTS full-text searches message subjects/bodies/senders,
// best matches first.
func SearchMessagesFTS(ctx context.Context, e execer, query string, limit int) ([]MessageFTSHit, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT m.id, m.subject, m.sender, abs(bm25(messages_fts)) AS score
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.id
		WHERE messages_fts MATCH ?
		ORDER BY bm25(messages_fts) ASC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search messages fts: %w", err)
	}
	defer rows.Close()

	var out []MessageFTSHit
	for rows.Next() {
		var h MessageFTSHit
		if err := rows.Scan(&h.MessageID, &h.Subject, &h.Sender, &h.Score); err != nil {
			return nil, fmt.Errorf("storage: scan message fts hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

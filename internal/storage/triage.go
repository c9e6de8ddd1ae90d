package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AppendTriageLog records a triage decision for auditability.
func AppendTriageLog(ctx context.Context, e execer, messageID, action, destinationFolder, reason string) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO triage_log (message_id, action, destination_folder, reason) VALUES (?, ?, ?, ?)
	`, messageID, action, nilIfEmpty(destinationFolder), reason)
	if err != nil {
		return fmt.Errorf("storage: append triage log %s: %w", messageID, err)
	}
	return nil
}

// ReplaceLabels clears and rewrites the label set for a message.
func ReplaceLabels(ctx context.Context, e execer, messageID string, labels map[string]float64) error {
	if _, err := e.ExecContext(ctx, `DELETE FROM labels WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("storage: clear labels %s: %w", messageID, err)
	}
	for label, confidence := range labels {
		if _, err := e.ExecContext(ctx, `
			INSERT INTO labels (message_id, label, confidence) VALUES (?, ?, ?)
		`, messageID, label, confidence); err != nil {
			return fmt.Errorf("storage: insert label %s/%s: %w", messageID, label, err)
		}
	}
	return nil
}

// UpsertReplyTracking records whether a message requires a reply.
func UpsertReplyTracking(ctx context.Context, e execer, messageID string, requiresReply bool, reason string, lastActivity time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO reply_tracking (message_id, requires_reply, reason, last_activity_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			requires_reply = excluded.requires_reply,
			reason = excluded.reason,
			last_activity_at = excluded.last_activity_at
	`, messageID, requiresReply, reason, lastActivity)
	if err != nil {
		return fmt.Errorf("storage: upsert reply tracking %s: %w", messageID, err)
	}
	return nil
}

// OverdueReplies returns messages still awaiting a reply whose last
// activity is older than olderThan and that haven't already had a nudge
// scheduled.
func OverdueReplies(ctx context.Context, e execer, olderThan time.Time) ([]string, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT message_id FROM reply_tracking
		WHERE requires_reply = 1 AND last_activity_at < ? AND nudge_scheduled_at IS NULL
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("storage: overdue replies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan overdue reply: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkNudgeScheduled stamps nudge_scheduled_at so the same reply isn't
// nudged twice.
func MarkNudgeScheduled(ctx context.Context, e execer, messageID string, at time.Time) error {
	_, err := e.ExecContext(ctx, `UPDATE reply_tracking SET nudge_scheduled_at = ? WHERE message_id = ?`, at, messageID)
	if err != nil {
		return fmt.Errorf("storage: mark nudge scheduled %s: %w", messageID, err)
	}
	return nil
}

// DigestItem is one message headline for the weekly digest payload.
type DigestItem struct {
	MessageID string
	Subject   string
	Sender    string
	Category  string
}

// RecentMessagesInCategories returns recent triaged messages in the given
// categories, newest first — the digest job's headline source.
func RecentMessagesInCategories(ctx context.Context, e execer, categories []string, since time.Time, limit int) ([]DigestItem, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(categories))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(categories)+2)
	for _, c := range categories {
		args = append(args, c)
	}
	args = append(args, since, limit)

	rows, err := e.QueryContext(ctx, `
		SELECT id, subject, sender, category FROM messages
		WHERE category IN (`+placeholders+`) AND received_at > ?
		ORDER BY received_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: recent messages in categories: %w", err)
	}
	defer rows.Close()

	var out []DigestItem
	for rows.Next() {
		var d DigestItem
		if err := rows.Scan(&d.MessageID, &d.Subject, &d.Sender, &d.Category); err != nil {
			return nil, fmt.Errorf("storage: scan digest item: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TriageStats summarizes message counts by category for the digest job.
func TriageStats(ctx context.Context, e execer, since time.Time) (map[string]int, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM messages
		WHERE category IS NOT NULL AND received_at > ? GROUP BY category`, since)
	if err != nil {
		return nil, fmt.Errorf("storage: triage stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var cat string
		var count int
		if err := rows.Scan(&cat, &count); err != nil {
			return nil, fmt.Errorf("storage: scan triage stats: %w", err)
		}
		stats[cat] = count
	}
	return stats, rows.Err()
}

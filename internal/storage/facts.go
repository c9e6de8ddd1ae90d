package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Fact is one flat, polymorphic extracted fact (amount, address, phone,
// deadline, decision, commitment, preference, ...). Kept separately from
// the typed wm_decisions/wm_commitments tables: those are the operational
// working-memory model the nudging engine acts on, while facts is
// free-form structured recall ("what did I learn about this thread")
// supplementing it.
type Fact struct {
	ID               string
	ConversationID   string
	FactType         string
	Content          string
	Context          string
	EntityNormalized string
	Confidence       float64
	SourceMessageID  string
	Status           string // active|resolved|expired
	DueDate          *time.Time
	CreatedAt        time.Time
	ExpiresAt        *time.Time
}

// InsertFact records a newly extracted fact.
func InsertFact(ctx context.Context, e execer, f Fact) error {
	if f.Status == "" {
		f.Status = "active"
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO facts (id, conversation_id, fact_type, content, context, entity_normalized, confidence, source_message_id, status, due_date, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, nilIfEmpty(f.ConversationID), f.FactType, f.Content, nilIfEmpty(f.Context), nilIfEmpty(f.EntityNormalized),
		f.Confidence, nilIfEmpty(f.SourceMessageID), f.Status, f.DueDate, f.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storage: insert fact %s: %w", f.ID, err)
	}
	return nil
}

// ExpireFacts marks active facts whose expiry has passed as "expired".
func ExpireFacts(ctx context.Context, e execer, now time.Time) (int, error) {
	res, err := e.ExecContext(ctx, `
		UPDATE facts SET status = 'expired' WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("storage: expire facts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FactsByConversation returns active facts for a conversation, newest first.
func FactsByConversation(ctx context.Context, e execer, conversationID string) ([]Fact, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, conversation_id, fact_type, content, context, entity_normalized, confidence, source_message_id, status, due_date, created_at
		FROM facts WHERE conversation_id = ? AND status = 'active' ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("storage: facts by conversation: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		var factContext, entity, sourceMsg sql.NullString
		var confidence sql.NullFloat64
		var dueDate sql.NullTime
		if err := rows.Scan(&f.ID, &f.ConversationID, &f.FactType, &f.Content, &factContext, &entity, &confidence, &sourceMsg, &f.Status, &dueDate, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan fact: %w", err)
		}
		f.Context = factContext.String
		f.EntityNormalized = entity.String
		f.Confidence = confidence.Float64
		f.SourceMessageID = sourceMsg.String
		if dueDate.Valid {
			f.DueDate = &dueDate.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FactStats summarizes active fact counts by fact type.
func FactStats(ctx context.Context, e execer) (map[string]int, error) {
	rows, err := e.QueryContext(ctx, `SELECT fact_type, COUNT(*) FROM facts WHERE status = 'active' GROUP BY fact_type`)
	if err != nil {
		return nil, fmt.Errorf("storage: fact stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var factType string
		var count int
		if err := rows.Scan(&factType, &count); err != nil {
			return nil, fmt.Errorf("storage: scan fact stats: %w", err)
		}
		stats[factType] = count
	}
	return stats, rows.Err()
}

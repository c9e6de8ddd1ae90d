// Package facts is the structured-fact extraction pass: for each message,
// alongside the working-memory updater, it calls the LLM fact extractor
// and records one flat, polymorphic facts row per fact found (amounts,
// addresses, deadlines, decisions, preferences, ...).
package facts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/inboxd/internal/llm"
	"github.com/jarrod-lowe/inboxd/internal/resilience"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

var tracer = otel.Tracer("facts")

// maxBodyChars bounds how much message body is handed to the extractor,
// matching the wm updater's own bound for the same collaborator call.
const maxBodyChars = 8000

// Extractor drives the per-message fact extraction pass.
type Extractor struct {
	extractor llm.FactExtractor
	db        *storage.DB
	log       *slog.Logger
}

// New constructs an Extractor.
func New(extractor llm.FactExtractor, db *storage.DB, log *slog.Logger) *Extractor {
	return &Extractor{extractor: extractor, db: db, log: log}
}

// Extract runs fact extraction for one message and persists any facts
// found inside a single transaction. A collaborator failure is logged and
// treated as zero facts found — this pass is purely additive and must
// never block triage or working-memory updates.
func (e *Extractor) Extract(ctx context.Context, m storage.Message) error {
	ctx, span := tracer.Start(ctx, "facts.extract")
	defer span.End()

	conversationID := m.ConversationID
	if conversationID == "" {
		conversationID = m.ID
	}

	body := m.BodyText
	if body == "" {
		body = m.BodyHTML
	}
	if body == "" {
		body = m.BodyPreview
	}
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}

	var found []llm.ExtractedFact
	err := resilience.Retry(ctx, func() error {
		f, err := e.extractor.ExtractFacts(ctx, conversationID, body)
		if err != nil {
			return err
		}
		found = f
		return nil
	})
	if err != nil {
		e.log.WarnContext(ctx, "fact extraction failed, skipping", "message_id", m.ID, "error", err)
		return nil
	}
	if len(found) == 0 {
		return nil
	}

	return e.db.RunInTx(ctx, func(tx *storage.Tx) error {
		for _, f := range found {
			factType := strings.TrimSpace(f.FactType)
			if factType == "" {
				factType = "other"
			}
			var dueDate *time.Time
			if f.DueDate != "" {
				if t, err := time.Parse(time.RFC3339, f.DueDate); err == nil {
					dueDate = &t
				}
			}
			if err := storage.InsertFact(ctx, tx, storage.Fact{
				ID:               uuid.NewString(),
				ConversationID:   conversationID,
				FactType:         factType,
				Content:          f.Content,
				Context:          f.Context,
				EntityNormalized: f.EntityNormalized,
				Confidence:       f.Confidence,
				SourceMessageID:  m.ID,
				DueDate:          dueDate,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Package embedder generates and persists embeddings for chunks that lack
// one, enriching chunk text with source metadata (subject/sender/date for
// emails, filename/parent-email for attachments) before encoding.
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jarrod-lowe/inboxd/internal/embedding"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

// Embedder drives the embed-pending-chunks pipeline against an embedding
// collaborator.
type Embedder struct {
	client    embedding.Client
	db        *storage.DB
	log       *slog.Logger
	batchSize int

	dimension int // probed once, 0 until Dimension has been called
}

// New constructs an Embedder. batchSize defaults to 8 if non-positive.
func New(client embedding.Client, db *storage.DB, log *slog.Logger, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = 8
	}
	return &Embedder{client: client, db: db, log: log, batchSize: batchSize}
}

// Dimension returns the embedding model's vector length, probing the
// collaborator once and caching the result for the process's lifetime.
func (e *Embedder) Dimension(ctx context.Context) (int, error) {
	if e.dimension > 0 {
		return e.dimension, nil
	}
	d, err := e.client.Dimension(ctx)
	if err != nil {
		return 0, fmt.Errorf("embedder: probe dimension: %w", err)
	}
	e.dimension = d
	return d, nil
}

// Result summarizes an EmbedPending run.
type Result struct {
	Processed    int
	Failed       int
	TotalPending int
}

// ProgressFunc is invoked after each batch with (processed, total) counts.
type ProgressFunc func(processed, total int)

// EmbedPending embeds up to limit pending chunks, enriching each with
// source context, encoding in batches, and persisting the resulting
// vectors. A batch-level encode failure marks that whole batch failed and
// continues with the next.
func (e *Embedder) EmbedPending(ctx context.Context, limit int, progress ProgressFunc) (Result, error) {
	totalPending, err := storage.CountChunksPendingEmbedding(ctx, e.db)
	if err != nil {
		return Result{}, err
	}

	pending, err := storage.ChunksPendingEmbedding(ctx, e.db, limit)
	if err != nil {
		return Result{}, err
	}

	result := Result{TotalPending: totalPending}
	if len(pending) == 0 {
		return result, nil
	}

	e.log.InfoContext(ctx, "embedding pending chunks", "to_process", len(pending), "total_pending", totalPending)

	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = enrichmentText(c)
		}

		vectors, err := e.client.EncodeBatch(ctx, texts)
		if err != nil {
			e.log.ErrorContext(ctx, "batch embedding failed", "error", err, "batch_size", len(batch))
			result.Failed += len(batch)
			if progress != nil {
				progress(result.Processed+result.Failed, len(pending))
			}
			continue
		}

		for i, c := range batch {
			if i >= len(vectors) {
				result.Failed++
				continue
			}
			blob := storage.EncodeEmbedding(vectors[i])
			if err := storage.SetChunkEmbedding(ctx, e.db, c.ID, blob); err != nil {
				return result, err
			}
			result.Processed++
		}
		if progress != nil {
			progress(result.Processed+result.Failed, len(pending))
		}
	}

	return result, nil
}

// enrichmentText builds the metadata-enriched text handed to the
// embedding model, following the per-source-type formats used throughout
// the pipeline (subject/sender/date preamble, blank line, then content).
func enrichmentText(c storage.PendingEmbeddingChunk) string {
	switch c.SourceType {
	case "email":
		return emailText(c.Content, c.EmailSubject, c.EmailSender, c.EmailReceivedAt)
	case "attachment":
		return attachmentText(c.Content, c.AttachmentFilename, c.AttachmentEmailSubj, c.AttachmentEmailSender)
	case "virtual_email":
		subject, sender, date := "", "", ""
		if c.MetadataJSON != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(c.MetadataJSON), &meta); err == nil {
				subject, _ = meta["extracted_subject"].(string)
				sender, _ = meta["extracted_sender"].(string)
				date, _ = meta["extracted_date"].(string)
			}
		}
		return emailText(c.Content, subject, sender, date)
	default:
		return c.Content
	}
}

func emailText(content, subject, sender, receivedAt string) string {
	var parts []string
	if subject != "" {
		parts = append(parts, "Subject: "+subject)
	}
	if sender != "" {
		parts = append(parts, "From: "+senderDisplay(sender))
	}
	if receivedAt != "" {
		parts = append(parts, "Date: "+datePart(receivedAt))
	}
	if len(parts) > 0 {
		parts = append(parts, "")
	}
	parts = append(parts, content)
	return strings.Join(parts, "\n")
}

func attachmentText(content, filename, emailSubject, emailSender string) string {
	var parts []string
	if filename != "" {
		parts = append(parts, "Attachment: "+filename)
	}
	if emailSubject != "" {
		parts = append(parts, "From email: "+emailSubject)
	}
	if emailSender != "" {
		parts = append(parts, "Sender: "+senderDisplay(emailSender))
	}
	if len(parts) > 0 {
		parts = append(parts, "")
	}
	parts = append(parts, content)
	return strings.Join(parts, "\n")
}

// senderDisplay extracts the display name from a "Name <email>" sender,
// falling back to the raw value.
func senderDisplay(sender string) string {
	if idx := strings.Index(sender, "<"); idx >= 0 {
		return strings.TrimSpace(sender[:idx])
	}
	return sender
}

// datePart keeps just the date portion of an RFC3339 timestamp.
func datePart(receivedAt string) string {
	if idx := strings.Index(receivedAt, "T"); idx >= 0 {
		return receivedAt[:idx]
	}
	return receivedAt
}

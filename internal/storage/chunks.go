package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Chunk is one searchable/embeddable text segment sourced from a message
// or an attachment (or a "virtual_email" split out of a forwarded chain).
type Chunk struct {
	ID              string
	SourceType      string // email|attachment|virtual_email
	SourceID        string
	ChunkIndex      int
	Content         string
	CharOffsetStart int
	CharOffsetEnd   int
	MetadataJSON    string
	Embedding       []byte
}

// UpsertChunk inserts a chunk, or no-ops if one already exists at the same
// (source_type, source_id, chunk_index) with identical content — re-chunking
// an unchanged body must not reset its embedding.
func UpsertChunk(ctx context.Context, e execer, c Chunk) error {
	var existing string
	row := e.QueryRowContext(ctx, `
		SELECT content FROM chunks WHERE source_type = ? AND source_id = ? AND chunk_index = ?`,
		c.SourceType, c.SourceID, c.ChunkIndex)
	err := row.Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err := e.ExecContext(ctx, `
			INSERT INTO chunks (id, source_type, source_id, chunk_index, content, char_offset_start, char_offset_end, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SourceType, c.SourceID, c.ChunkIndex, c.Content, c.CharOffsetStart, c.CharOffsetEnd, nilIfEmpty(c.MetadataJSON))
		if err != nil {
			return fmt.Errorf("storage: insert chunk %s: %w", c.ID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("storage: check existing chunk: %w", err)
	case existing == c.Content:
		return nil
	default:
		_, err := e.ExecContext(ctx, `
			UPDATE chunks SET content = ?, char_offset_start = ?, char_offset_end = ?, metadata_json = ?, embedding = NULL
			WHERE source_type = ? AND source_id = ? AND chunk_index = ?`,
			c.Content, c.CharOffsetStart, c.CharOffsetEnd, nilIfEmpty(c.MetadataJSON), c.SourceType, c.SourceID, c.ChunkIndex)
		if err != nil {
			return fmt.Errorf("storage: update chunk: %w", err)
		}
		return nil
	}
}

// PendingEmbeddingChunk is a chunk lacking an embedding, enriched with the
// source metadata needed to build embedding-context text.
type PendingEmbeddingChunk struct {
	Chunk
	EmailSubject          string
	EmailSender           string
	EmailReceivedAt       string
	AttachmentFilename    string
	AttachmentEmailSubj   string
	AttachmentEmailSender string
}

// ChunksPendingEmbedding returns chunks without an embedding, joined
// against their source message/attachment for context enrichment.
func ChunksPendingEmbedding(ctx context.Context, e execer, limit int) ([]PendingEmbeddingChunk, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT
			c.id, c.source_type, c.source_id, c.chunk_index, c.content, c.metadata_json,
			m.subject, m.sender, m.received_at,
			a.filename,
			am.subject, am.sender
		FROM chunks c
		LEFT JOIN messages m ON c.source_type = 'email' AND c.source_id = m.id
		LEFT JOIN attachments a ON c.source_type = 'attachment' AND c.source_id = a.id
		LEFT JOIN messages am ON a.message_id = am.id
		WHERE c.embedding IS NULL
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: chunks pending embedding: %w", err)
	}
	defer rows.Close()

	var out []PendingEmbeddingChunk
	for rows.Next() {
		var p PendingEmbeddingChunk
		var metaJSON, subj, sender, receivedAt, attFilename, attSubj, attSender sql.NullString
		if err := rows.Scan(
			&p.ID, &p.SourceType, &p.SourceID, &p.ChunkIndex, &p.Content, &metaJSON,
			&subj, &sender, &receivedAt, &attFilename, &attSubj, &attSender,
		); err != nil {
			return nil, fmt.Errorf("storage: scan pending embedding chunk: %w", err)
		}
		p.MetadataJSON = metaJSON.String
		p.EmailSubject = subj.String
		p.EmailSender = sender.String
		p.EmailReceivedAt = receivedAt.String
		p.AttachmentFilename = attFilename.String
		p.AttachmentEmailSubj = attSubj.String
		p.AttachmentEmailSender = attSender.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountChunksPendingEmbedding returns the total number of chunks still
// missing an embedding.
func CountChunksPendingEmbedding(ctx context.Context, e execer) (int, error) {
	var n int
	err := e.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count pending embedding: %w", err)
	}
	return n, nil
}

// SetChunkEmbedding stores a generated embedding blob for a chunk.
func SetChunkEmbedding(ctx context.Context, e execer, chunkID string, embedding []byte) error {
	_, err := e.ExecContext(ctx, `UPDATE chunks SET embedding = ? WHERE id = ?`, embedding, chunkID)
	if err != nil {
		return fmt.Errorf("storage: set chunk embedding %s: %w", chunkID, err)
	}
	return nil
}

// ChunkByID fetches a single chunk including its embedding.
func ChunkByID(ctx context.Context, e execer, id string) (*Chunk, error) {
	row := e.QueryRowContext(ctx, `
		SELECT id, source_type, source_id, chunk_index, content, metadata_json, embedding
		FROM chunks WHERE id = ?`, id)
	var c Chunk
	var meta sql.NullString
	var emb []byte
	err := row.Scan(&c.ID, &c.SourceType, &c.SourceID, &c.ChunkIndex, &c.Content, &meta, &emb)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: chunk by id %s: %w", id, err)
	}
	c.MetadataJSON = meta.String
	c.Embedding = emb
	return &c, nil
}

// AllEmbeddedChunks returns every chunk that has an embedding, for vector
// search's brute-force cosine scan.
func AllEmbeddedChunks(ctx context.Context, e execer) ([]Chunk, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, source_type, source_id, chunk_index, content, metadata_json, embedding
		FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("storage: all embedded chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var meta sql.NullString
		if err := rows.Scan(&c.ID, &c.SourceType, &c.SourceID, &c.ChunkIndex, &c.Content, &meta, &c.Embedding); err != nil {
			return nil, fmt.Errorf("storage: scan embedded chunk: %w", err)
		}
		c.MetadataJSON = meta.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// FTSHit is one BM25-ranked full-text hit over the chunk lexical index.
// SQLite's bm25() returns negative values where more negative is a better
// match; Score is reported as abs(bm25) so callers see larger = better.
type FTSHit struct {
	ChunkID    string
	SourceType string
	SourceID   string
	Score      float64
}

// SearchChunksFTS full-text searches chunk content, best matches first.
func SearchChunksFTS(ctx context.Context, e execer, query string, limit int) ([]FTSHit, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT c.id, c.source_type, c.source_id, abs(bm25(chunks_fts)) AS score
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.id
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts) ASC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search chunks fts: %w", err)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.ChunkID, &h.SourceType, &h.SourceID, &h.Score); err != nil {
			return nil, fmt.Errorf("storage: scan fts hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

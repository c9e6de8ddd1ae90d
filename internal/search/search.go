// Package search implements hybrid lexical+semantic search over chunks:
// FTS-only, vector-only, and Reciprocal Rank Fusion combining both.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jarrod-lowe/inboxd/internal/embedding"
	"github.com/jarrod-lowe/inboxd/internal/snippet"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

// Mode selects which signal(s) a search draws on.
type Mode string

const (
	ModeFTS    Mode = "fts"
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

// rrfK is the Reciprocal Rank Fusion constant; higher weights later ranks
// more generously.
const rrfK = 60

// defaultMinScore is the vector-search similarity floor below which a
// chunk is not considered a match.
const defaultMinScore = 0.25

// Result is one search hit, optionally enriched with source details.
type Result struct {
	ChunkID        string
	SourceType     string
	SourceID       string
	ContentPreview string
	Score          float64
	FTSRank        int // 0 means "not present in the FTS list"
	VectorRank     int // 0 means "not present in the vector list"
	Metadata       map[string]any

	EmailSubject      string
	EmailSender       string
	EmailDate         string
	ConversationID    string
	Filename          string
	ContentType       string
	IsVirtual         bool
	ExtractedFrom     string
	PositionInChain   int
	ForwardedBy       string
	ForwardedAt       string
	ForwardSubject    string
}

// Searcher runs FTS/vector/hybrid search against the storage layer.
type Searcher struct {
	db       *storage.DB
	embedder embedding.Client
}

// New constructs a Searcher. embedder may be nil if only FTS mode is used.
func New(db *storage.DB, embedder embedding.Client) *Searcher {
	return &Searcher{db: db, embedder: embedder}
}

// Search runs the given mode and enriches results with source details
// (subject/sender/date for email, filename for attachment, forward chain
// metadata for virtual_email).
func (s *Searcher) Search(ctx context.Context, query string, limit int, mode Mode) ([]Result, error) {
	var results []Result
	var err error

	terms := strings.Fields(query)

	switch mode {
	case ModeFTS:
		results, err = s.ftsSearch(ctx, query, terms, limit)
	case ModeVector:
		results, err = s.vectorSearch(ctx, query, terms, limit, defaultMinScore)
	case ModeHybrid, "":
		fts, ferr := s.ftsSearch(ctx, query, terms, limit*2)
		if ferr != nil {
			return nil, ferr
		}
		vec, verr := s.vectorSearch(ctx, query, terms, limit*2, defaultMinScore)
		if verr != nil {
			return nil, verr
		}
		merged := rrfMerge(fts, vec)
		if len(merged) > limit {
			merged = merged[:limit]
		}
		results = merged
	default:
		return nil, fmt.Errorf("search: unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	for i := range results {
		if err := s.enrich(ctx, &results[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Searcher) ftsSearch(ctx context.Context, query string, terms []string, limit int) ([]Result, error) {
	hits, err := storage.SearchChunksFTS(ctx, s.db, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: fts: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for i, h := range hits {
		chunk, err := storage.ChunkByID(ctx, s.db, h.ChunkID)
		if err != nil || chunk == nil {
			continue
		}
		results = append(results, Result{
			ChunkID:        h.ChunkID,
			SourceType:     h.SourceType,
			SourceID:       h.SourceID,
			ContentPreview: preview(chunk.Content, terms),
			Score:          h.Score,
			FTSRank:        i + 1,
			Metadata:       decodeMetadata(chunk.MetadataJSON),
		})
	}
	return results, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, query string, terms []string, limit int, minScore float64) ([]Result, error) {
	if s.embedder == nil {
		return nil, nil
	}
	queryVec, err := s.embedder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: encode query: %w", err)
	}
	queryBlob := storage.EncodeEmbedding(queryVec)

	chunks, err := storage.AllEmbeddedChunks(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("search: all embedded chunks: %w", err)
	}

	type scored struct {
		chunk storage.Chunk
		score float64
	}
	var candidates []scored
	for _, c := range chunks {
		sc := storage.CosineSimilarity(queryBlob, c.Embedding)
		if sc >= minScore {
			candidates = append(candidates, scored{chunk: c, score: sc})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		results = append(results, Result{
			ChunkID:        c.chunk.ID,
			SourceType:     c.chunk.SourceType,
			SourceID:       c.chunk.SourceID,
			ContentPreview: preview(c.chunk.Content, terms),
			Score:          c.score,
			VectorRank:     i + 1,
			Metadata:       decodeMetadata(c.chunk.MetadataJSON),
		})
	}
	return results, nil
}

// rrfMerge combines FTS and vector result lists by Reciprocal Rank
// Fusion: score = sum over lists of 1/(k+rank). Ties are broken by
// first-seen order via a stable sort.
func rrfMerge(fts, vector []Result) []Result {
	merged := map[string]*Result{}
	var order []string

	add := func(r Result) *Result {
		if existing, ok := merged[r.ChunkID]; ok {
			return existing
		}
		cp := r
		cp.Score = 0
		merged[r.ChunkID] = &cp
		order = append(order, r.ChunkID)
		return merged[r.ChunkID]
	}

	for _, r := range fts {
		m := add(r)
		m.FTSRank = r.FTSRank
		m.Score += 1.0 / float64(rrfK+r.FTSRank)
	}
	for _, r := range vector {
		m := add(r)
		m.VectorRank = r.VectorRank
		m.Score += 1.0 / float64(rrfK+r.VectorRank)
	}

	out := make([]Result, len(order))
	for i, id := range order {
		out[i] = *merged[id]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// preview builds a highlighted, length-bounded content preview using the
// query's terms, falling back to a plain 300-byte truncation when nothing
// in the content matched (e.g. a vector-only hit).
func preview(content string, terms []string) string {
	if h := snippet.HighlightPreview(content, terms); h != nil {
		return *h
	}
	if len(content) <= 300 {
		return content
	}
	return content[:300]
}

func decodeMetadata(metadataJSON string) map[string]any {
	if metadataJSON == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(metadataJSON), &m); err != nil {
		return nil
	}
	return m
}

// enrich fills in source details the same way search_with_source_details
// does: email/attachment lookups by source ID, forward-chain metadata for
// virtual emails plus the forwarding message's own details.
func (s *Searcher) enrich(ctx context.Context, r *Result) error {
	switch r.SourceType {
	case "email":
		msg, err := storage.GetMessage(ctx, s.db, r.SourceID)
		if err != nil {
			return fmt.Errorf("search: enrich email: %w", err)
		}
		if msg != nil {
			r.EmailSubject = msg.Subject
			r.EmailSender = msg.Sender
			r.EmailDate = msg.ReceivedAt.Format("2006-01-02T15:04:05Z07:00")
			r.ConversationID = msg.ConversationID
		}
	case "attachment":
		att, err := storage.AttachmentByID(ctx, s.db, r.SourceID)
		if err != nil {
			return fmt.Errorf("search: enrich attachment: %w", err)
		}
		if att != nil {
			r.Filename = att.Filename
			r.ContentType = att.ContentType
			msg, err := storage.GetMessage(ctx, s.db, att.MessageID)
			if err != nil {
				return fmt.Errorf("search: enrich attachment's email: %w", err)
			}
			if msg != nil {
				r.EmailSubject = msg.Subject
				r.EmailSender = msg.Sender
				r.EmailDate = msg.ReceivedAt.Format("2006-01-02T15:04:05Z07:00")
				r.ConversationID = msg.ConversationID
			}
		}
	case "virtual_email":
		r.IsVirtual = true
		if r.Metadata != nil {
			r.EmailSender, _ = r.Metadata["extracted_sender"].(string)
			if r.EmailSender == "" {
				r.EmailSender = "Unknown (from forward)"
			}
			r.EmailSubject, _ = r.Metadata["extracted_subject"].(string)
			r.EmailDate, _ = r.Metadata["extracted_date"].(string)
			r.ExtractedFrom, _ = r.Metadata["source_email_id"].(string)
			if pos, ok := r.Metadata["position_in_chain"].(float64); ok {
				r.PositionInChain = int(pos)
			}
			if r.ExtractedFrom != "" {
				msg, err := storage.GetMessage(ctx, s.db, r.ExtractedFrom)
				if err != nil {
					return fmt.Errorf("search: enrich virtual email source: %w", err)
				}
				if msg != nil {
					r.ForwardedBy = msg.Sender
					r.ForwardedAt = msg.ReceivedAt.Format("2006-01-02T15:04:05Z07:00")
					r.ForwardSubject = msg.Subject
				}
			}
		}
	}
	return nil
}

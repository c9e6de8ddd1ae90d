package embedder

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/inboxd/internal/storage"
)

type fakeEmbedding struct {
	dim       int
	failBatch bool
}

func (f *fakeEmbedding) Encode(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedding) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failBatch {
		return nil, assertErr("batch failed")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedding) Dimension(ctx context.Context) (int, error) { return f.dim, nil }

type assertErr string

func (e assertErr) Error() string { return string(e) }

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmbedPendingWritesVectors(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	require.NoError(t, storage.UpsertChunk(ctx, db, storage.Chunk{ID: "c1", SourceType: "email", SourceID: "m1", ChunkIndex: 0, Content: "hello"}))
	require.NoError(t, storage.UpsertChunk(ctx, db, storage.Chunk{ID: "c2", SourceType: "email", SourceID: "m1", ChunkIndex: 1, Content: "world"}))

	emb := New(&fakeEmbedding{dim: 3}, db, slog.Default(), 1)
	result, err := emb.EmbedPending(ctx, 10, nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, 0, result.Failed)

	chunk, err := storage.ChunkByID(ctx, db, "c1")
	require.NoError(t, err)
	require.NotNil(t, chunk.Embedding)
}

func TestEmbedPendingHandlesBatchFailure(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	require.NoError(t, storage.UpsertChunk(ctx, db, storage.Chunk{ID: "c1", SourceType: "email", SourceID: "m1", ChunkIndex: 0, Content: "hello"}))

	emb := New(&fakeEmbedding{dim: 3, failBatch: true}, db, slog.Default(), 1)
	result, err := emb.EmbedPending(ctx, 10, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
}

func TestEnrichmentTextIncludesSubjectAndSender(t *testing.T) {
	text := emailText("body", "Q1 plan", "Alice <alice@example.com>", "2026-01-01T00:00:00Z")
	require.Contains(t, text, "Subject: Q1 plan")
	require.Contains(t, text, "From: Alice")
	require.Contains(t, text, "Date: 2026-01-01")
	require.Contains(t, text, "body")
}

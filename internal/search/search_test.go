package search

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/inboxd/internal/storage"
)

type fakeEmbedding struct{}

func (f *fakeEmbedding) Encode(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (f *fakeEmbedding) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeEmbedding) Dimension(ctx context.Context) (int, error) { return 3, nil }

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFTSSearchFindsMatchingChunk(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	require.NoError(t, storage.UpsertMessage(ctx, db, storage.Message{ID: "m1", Subject: "Budget", Sender: "alice@example.com", ReceivedAt: time.Now().UTC()}))
	require.NoError(t, storage.UpsertChunk(ctx, db, storage.Chunk{ID: "c1", SourceType: "email", SourceID: "m1", ChunkIndex: 0, Content: "quarterly budget review meeting notes"}))

	s := New(db, nil)
	results, err := s.Search(ctx, "budget", 10, ModeFTS)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Budget", results[0].EmailSubject)
}

func TestVectorSearchFiltersByMinScore(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	require.NoError(t, storage.UpsertChunk(ctx, db, storage.Chunk{ID: "c1", SourceType: "email", SourceID: "m1", ChunkIndex: 0, Content: "hello"}))
	blob := storage.EncodeEmbedding([]float32{1, 0, 0})
	require.NoError(t, storage.SetChunkEmbedding(ctx, db, "c1", blob))

	// Orthogonal to the query vector: cosine 0, below the 0.25 minimum.
	require.NoError(t, storage.UpsertChunk(ctx, db, storage.Chunk{ID: "c2", SourceType: "email", SourceID: "m1", ChunkIndex: 1, Content: "world"}))
	require.NoError(t, storage.SetChunkEmbedding(ctx, db, "c2", storage.EncodeEmbedding([]float32{0, 1, 0})))

	s := New(db, &fakeEmbedding{})
	results, err := s.Search(ctx, "hello", 10, ModeVector)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "c1", results[0].ChunkID)
}

func TestRRFMergeCombinesBothLists(t *testing.T) {
	fts := []Result{{ChunkID: "a", FTSRank: 1}, {ChunkID: "b", FTSRank: 2}}
	vec := []Result{{ChunkID: "b", VectorRank: 1}, {ChunkID: "c", VectorRank: 2}}

	merged := rrfMerge(fts, vec)
	require.Len(t, merged, 3)
	require.Equal(t, "b", merged[0].ChunkID) // present in both lists, highest combined score

	expected := 1.0/float64(rrfK+2) + 1.0/float64(rrfK+1)
	require.True(t, math.Abs(merged[0].Score-expected) < 1e-9)
}

package facts

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/inboxd/internal/llm"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

type fakeExtractor struct {
	facts []llm.ExtractedFact
	err   error
}

func (f *fakeExtractor) ExtractFacts(ctx context.Context, conversationID, body string) ([]llm.ExtractedFact, error) {
	return f.facts, f.err
}

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExtractPersistsFacts(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	fe := &fakeExtractor{facts: []llm.ExtractedFact{
		{FactType: "deadline", Content: "Budget due Friday"},
		{FactType: "", Content: "unlabeled fact falls back to other"},
	}}
	e := New(fe, db, log)

	m := storage.Message{
		ID: "msg-1", ConversationID: "conv-1", Subject: "Q4 budget",
		Sender: "boss@acme.com", BodyText: "Please approve the budget by Friday.", ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, storage.UpsertMessage(ctx, db, m))

	require.NoError(t, e.Extract(ctx, m))

	found, err := storage.FactsByConversation(ctx, db, "conv-1")
	require.NoError(t, err)
	require.Len(t, found, 2)
	types := map[string]bool{}
	for _, f := range found {
		types[f.FactType] = true
		require.Equal(t, "msg-1", f.SourceMessageID)
		require.Equal(t, "active", f.Status)
	}
	require.True(t, types["deadline"])
	require.True(t, types["other"])
}

func TestExtractFallsBackToEmptyOnError(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	fe := &fakeExtractor{err: context.DeadlineExceeded}
	e := New(fe, db, log)

	m := storage.Message{ID: "msg-2", ConversationID: "conv-2", Sender: "a@b.com", ReceivedAt: time.Now().UTC()}
	require.NoError(t, storage.UpsertMessage(ctx, db, m))

	require.NoError(t, e.Extract(ctx, m))

	found, err := storage.FactsByConversation(ctx, db, "conv-2")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestExtractUsesMessageIDWhenConversationIDEmpty(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	fe := &fakeExtractor{facts: []llm.ExtractedFact{{FactType: "amount", Content: "$500"}}}
	e := New(fe, db, log)

	m := storage.Message{ID: "msg-3", Sender: "a@b.com", ReceivedAt: time.Now().UTC()}
	require.NoError(t, storage.UpsertMessage(ctx, db, m))

	require.NoError(t, e.Extract(ctx, m))

	found, err := storage.FactsByConversation(ctx, db, "msg-3")
	require.NoError(t, err)
	require.Len(t, found, 1)
}

package replicator

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/inboxd/internal/graph"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

type fakeGraph struct {
	folders       []graph.Folder
	fullPages     map[string][]graph.Page
	deltaPages    map[string][]graph.Page
	deltaErr      error
	attachmentsOf map[string][]graph.AttachmentMeta
}

func (f *fakeGraph) ListFolders(ctx context.Context) ([]graph.Folder, error) {
	return f.folders, nil
}

func (f *fakeGraph) FullSync(ctx context.Context, folderID string, fetchBody bool, pageToken string) (graph.Page, error) {
	pages := f.fullPages[folderID]
	idx := 0
	if pageToken != "" {
		idx = int(pageToken[0] - '0')
	}
	if idx >= len(pages) {
		return graph.Page{}, nil
	}
	return pages[idx], nil
}

func (f *fakeGraph) DeltaSync(ctx context.Context, folderID, deltaLink string, fetchBody bool) (graph.Page, error) {
	if f.deltaErr != nil {
		return graph.Page{}, f.deltaErr
	}
	pages := f.deltaPages[folderID]
	for _, p := range pages {
		if p.NextLink == deltaLink || p.DeltaLink == deltaLink {
			return p, nil
		}
	}
	if len(pages) > 0 {
		return pages[0], nil
	}
	return graph.Page{}, nil
}

func (f *fakeGraph) ListAttachments(ctx context.Context, messageID string) ([]graph.AttachmentMeta, error) {
	return f.attachmentsOf[messageID], nil
}

func (f *fakeGraph) DownloadAttachment(ctx context.Context, messageID, attachmentID string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeGraph) UpdateMessage(ctx context.Context, messageID string, update graph.MessageUpdate) error {
	return nil
}

func (f *fakeGraph) Move(ctx context.Context, messageID, folderName string) error {
	return nil
}

func (f *fakeGraph) Delete(ctx context.Context, messageID string) error {
	return nil
}

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFullSyncFolderPersistsDeltaLink(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	g := &fakeGraph{
		fullPages: map[string][]graph.Page{
			"inbox": {
				{
					Messages: []graph.Message{
						{ID: "m1", ConversationID: "c1", Subject: "Hi", ReceivedDateTime: "2026-01-01T00:00:00Z"},
					},
					DeltaLink: "delta-token-1",
				},
			},
		},
	}

	rep := New(g, db, slog.Default())
	n, err := rep.FullSyncFolder(ctx, "inbox", false)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	state, err := storage.GetSyncState(ctx, db, "inbox")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, "delta-token-1", state.DeltaLink)

	msg, err := storage.GetMessage(ctx, db, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, "Hi", msg.Subject)
	require.Empty(t, msg.BodyHash, "no body fetched for this message, hash should stay empty")
}

func TestFullSyncFolderComputesBodyHash(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	g := &fakeGraph{
		fullPages: map[string][]graph.Page{
			"inbox": {
				{
					Messages: []graph.Message{
						{ID: "m1", ReceivedDateTime: "2026-01-01T00:00:00Z", Body: "hello world", BodyContentType: "text"},
					},
					DeltaLink: "delta-token-1",
				},
			},
		},
	}

	rep := New(g, db, slog.Default())
	_, err := rep.FullSyncFolder(ctx, "inbox", true)
	require.NoError(t, err)

	msg, err := storage.GetMessage(ctx, db, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Len(t, msg.BodyHash, 16)
	require.Equal(t, bodyHash("hello world"), msg.BodyHash)
}

func TestDeltaSyncFolderFallsBackToFullSyncOnExpiredToken(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	require.NoError(t, storage.SaveSyncState(ctx, db, "inbox", "expired-token", "delta", 0, time.Now().UTC()))

	g := &fakeGraph{
		deltaErr: &graph.ErrDeltaExpired{FolderID: "inbox"},
		fullPages: map[string][]graph.Page{
			"inbox": {
				{
					Messages:  []graph.Message{{ID: "m1", Subject: "resynced", ReceivedDateTime: "2026-01-01T00:00:00Z"}},
					DeltaLink: "fresh-token",
				},
			},
		},
	}

	rep := New(g, db, slog.Default())
	updated, deleted, err := rep.DeltaSyncFolder(ctx, "inbox", false)
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.Equal(t, 0, deleted)

	state, err := storage.GetSyncState(ctx, db, "inbox")
	require.NoError(t, err)
	require.Equal(t, "fresh-token", state.DeltaLink)

	msg, err := storage.GetMessage(ctx, db, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestDeltaSyncFolderHandlesRemovedMarker(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	require.NoError(t, storage.UpsertMessage(ctx, db, storage.Message{ID: "m1", ReceivedAt: time.Now().UTC()}))
	require.NoError(t, storage.SaveSyncState(ctx, db, "inbox", "old-token", "full", 1, time.Now().UTC()))

	g := &fakeGraph{
		deltaPages: map[string][]graph.Page{
			"inbox": {
				{
					Messages:  []graph.Message{{ID: "m1", Removed: true}},
					DeltaLink: "new-token",
				},
			},
		},
	}

	rep := New(g, db, slog.Default())
	updated, deleted, err := rep.DeltaSyncFolder(ctx, "inbox", false)
	require.NoError(t, err)
	require.Equal(t, 0, updated)
	require.Equal(t, 1, deleted)

	msg, err := storage.GetMessage(ctx, db, "m1")
	require.NoError(t, err)
	require.Nil(t, msg)
}

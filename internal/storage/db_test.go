package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesSchemaIdempotently(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}

func TestUpsertMessagePreservesBodyOnDeltaPageWithoutBody(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	base := Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Subject:        "Hello",
		Sender:         "a@example.com",
		ReceivedAt:     time.Now().UTC(),
		BodyText:       "full body text",
	}
	require.NoError(t, UpsertMessage(ctx, db, base))

	// A delta-sync page with no body content (just metadata refresh) must
	// not clobber the previously-fetched body.
	update := base
	update.IsRead = true
	update.BodyText = ""
	require.NoError(t, UpsertMessage(ctx, db, update))

	got, err := GetMessage(ctx, db, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "full body text", got.BodyText)
	require.True(t, got.IsRead)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	err := db.RunInTx(ctx, func(tx *Tx) error {
		if err := UpsertMessage(ctx, tx, Message{ID: "m1", ReceivedAt: time.Now()}); err != nil {
			return err
		}
		return assertErr
	})
	require.ErrorIs(t, err, assertErr)

	got, err := GetMessage(ctx, db, "m1")
	require.NoError(t, err)
	require.Nil(t, got)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

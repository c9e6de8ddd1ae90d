package wmengine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/inboxd/internal/config"
	"github.com/jarrod-lowe/inboxd/internal/storage"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
)

func testEngine(t *testing.T) (*Engine, *storage.DB) {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	em, err := trigger.New(db, filepath.Join(t.TempDir(), "outbox"))
	require.NoError(t, err)

	cfg := &config.Config{
		DelegatedUser:           "user@acme.com",
		WMStaleThresholdDays:    3,
		WMUrgencyEscalationDays: 2,
		WMObservationRetainDays: 30,
		WMReplyNudgeDays:        2,
		WMDecisionNudgeDays:     3,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, em, cfg, log), db
}

func TestRunCycleMarksStaleAndEscalates(t *testing.T) {
	ctx := context.Background()
	e, db := testEngine(t)

	old := time.Now().UTC().AddDate(0, 0, -5)
	require.NoError(t, storage.UpsertThread(ctx, db, storage.Thread{
		ConversationID: "conv-1", Subject: "s", Status: "active", NeedsReply: true,
		Urgency: "this_week", LastActivityAt: old,
	}))

	rep, err := e.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.ThreadsMarkedStale)
	require.Equal(t, 1, rep.ThreadsEscalated)

	thread, err := storage.GetThread(ctx, db, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "stale", thread.Status)
	require.Equal(t, "today", thread.Urgency)

	rep2, err := e.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rep2.ThreadsEscalated)
}

func TestRunCycleEscalatesSomedayNeedsReplyToToday(t *testing.T) {
	ctx := context.Background()
	e, db := testEngine(t)

	old := time.Now().UTC().AddDate(0, 0, -3)
	require.NoError(t, storage.UpsertThread(ctx, db, storage.Thread{
		ConversationID: "conv-2", Subject: "s", Status: "active", NeedsReply: true,
		Urgency: "someday", LastActivityAt: old,
	}))

	_, err := e.RunCycle(ctx)
	require.NoError(t, err)

	thread, err := storage.GetThread(ctx, db, "conv-2")
	require.NoError(t, err)
	require.Equal(t, "today", thread.Urgency)
}

func TestRunCycleOverdueCommitmentEmitsOneNudge(t *testing.T) {
	ctx := context.Background()
	e, db := testEngine(t)

	require.NoError(t, storage.UpsertThread(ctx, db, storage.Thread{
		ConversationID: "conv-x", Subject: "s", Status: "active", LastActivityAt: time.Now().UTC(),
	}))
	due := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, storage.InsertCommitmentFull(ctx, db, storage.Commitment{
		ID: "c1", ConversationID: "conv-x", OwnerEmail: "user@acme.com", Description: "send report", DueAt: &due,
	}))

	rep, err := e.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.NudgesEmitted)

	rep2, err := e.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rep2.NudgesEmitted)
}

func TestRunCycleIsIdempotentWithNoNewData(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	rep1, err := e.RunCycle(ctx)
	require.NoError(t, err)
	rep2, err := e.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, rep1, rep2)
	require.Equal(t, 0, rep2.NudgesEmitted)
}

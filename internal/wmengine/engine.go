// Package wmengine is the working-memory maintenance engine (C9): on a
// timer independent of message polling, it marks stale threads, escalates
// urgency on threads and decisions that have sat too long, prunes old
// observations, and then emits nudges from the post-commit state.
package wmengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jarrod-lowe/inboxd/internal/config"
	"github.com/jarrod-lowe/inboxd/internal/storage"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
)

var tracer = otel.Tracer("wmengine")

// Engine drives C9 against one delegated mailbox's working memory.
type Engine struct {
	db      *storage.DB
	emitter *trigger.Emitter
	cfg     *config.Config
	log     *slog.Logger

	running sync.Mutex // re-entrancy guard: two cycles never overlap
}

// New constructs an Engine.
func New(db *storage.DB, emitter *trigger.Emitter, cfg *config.Config, log *slog.Logger) *Engine {
	return &Engine{db: db, emitter: emitter, cfg: cfg, log: log}
}

// Report summarizes one maintenance cycle's effect, mostly for logging and tests.
type Report struct {
	ThreadsMarkedStale    int
	ThreadsEscalated      int
	ObservationsPruned    int
	NudgesEmitted         int
}

// RunCycle performs one maintenance cycle. If a cycle is already running,
// it returns immediately without doing anything — the caller's ticker
// should just wait for the next tick.
func (e *Engine) RunCycle(ctx context.Context) (Report, error) {
	if !e.running.TryLock() {
		e.log.WarnContext(ctx, "wmengine: cycle already running, skipping tick")
		return Report{}, nil
	}
	defer e.running.Unlock()

	ctx, span := tracer.Start(ctx, "wmengine.run_cycle")
	defer span.End()

	now := time.Now().UTC()
	var rep Report

	err := e.db.RunInTx(ctx, func(tx *storage.Tx) error {
		staleCutoff := now.AddDate(0, 0, -e.cfg.WMStaleThresholdDays)
		staled, err := storage.MarkThreadsStale(ctx, tx, staleCutoff)
		if err != nil {
			return fmt.Errorf("wmengine: mark stale: %w", err)
		}
		rep.ThreadsMarkedStale = len(staled)

		escCutoff := now.AddDate(0, 0, -e.cfg.WMUrgencyEscalationDays)
		escalated, err := storage.EscalateNeedsReplyThreads(ctx, tx, escCutoff)
		if err != nil {
			return fmt.Errorf("wmengine: escalate threads: %w", err)
		}
		rep.ThreadsEscalated = len(escalated)

		if err := storage.EscalateOldPendingDecisions(ctx, tx, escCutoff); err != nil {
			return fmt.Errorf("wmengine: escalate decisions: %w", err)
		}

		retentionCutoff := now.AddDate(0, 0, -e.cfg.WMObservationRetainDays)
		pruned, err := storage.PruneObservations(ctx, tx, retentionCutoff)
		if err != nil {
			return fmt.Errorf("wmengine: prune observations: %w", err)
		}
		rep.ObservationsPruned = pruned

		return nil
	})
	if err != nil {
		return rep, err
	}

	emitted, err := e.emitNudges(ctx, now)
	if err != nil {
		e.log.ErrorContext(ctx, "wmengine: nudge emission failed", "error", err)
	}
	rep.NudgesEmitted = emitted

	return rep, nil
}

// emitNudges scans post-commit state and writes one deduped trigger per
// overdue item. Each nudge's dedupe key is derived from its
// type and target id, so a later cycle seeing the same overdue item again
// is a no-op.
func (e *Engine) emitNudges(ctx context.Context, now time.Time) (int, error) {
	emitted := 0

	replyCutoff := now.AddDate(0, 0, -e.cfg.WMReplyNudgeDays)
	overdueReplies, err := storage.OverdueReplyThreads(ctx, e.db, replyCutoff)
	if err != nil {
		return emitted, fmt.Errorf("wmengine: overdue reply threads: %w", err)
	}
	for _, t := range overdueReplies {
		n, err := e.writeNudge(ctx, "overdue_reply", t.ConversationID, "today", map[string]any{
			"conversation_id": t.ConversationID, "subject": t.Subject,
		})
		if err != nil {
			e.log.ErrorContext(ctx, "wmengine: overdue reply nudge failed", "conversation_id", t.ConversationID, "error", err)
			continue
		}
		emitted += n
	}

	commitCutoff := now
	overdueCommits, err := storage.OverdueCommitments(ctx, e.db, commitCutoff)
	if err != nil {
		return emitted, fmt.Errorf("wmengine: overdue commitments: %w", err)
	}
	for _, c := range overdueCommits {
		n, err := e.writeNudge(ctx, "commitment_overdue", c.ID, "immediate", map[string]any{
			"commitment_id": c.ID, "conversation_id": c.ConversationID, "description": c.Description,
		})
		if err != nil {
			e.log.ErrorContext(ctx, "wmengine: overdue commitment nudge failed", "commitment_id", c.ID, "error", err)
			continue
		}
		emitted += n
	}

	staleUrgentCutoff := now.Add(-24 * time.Hour)
	staleUrgent, err := storage.StaleUrgentThreads(ctx, e.db, staleUrgentCutoff)
	if err != nil {
		return emitted, fmt.Errorf("wmengine: stale urgent threads: %w", err)
	}
	for _, t := range staleUrgent {
		n, err := e.writeNudge(ctx, "stale_urgent_thread", t.ConversationID, t.Urgency, map[string]any{
			"conversation_id": t.ConversationID, "subject": t.Subject,
		})
		if err != nil {
			e.log.ErrorContext(ctx, "wmengine: stale urgent thread nudge failed", "conversation_id", t.ConversationID, "error", err)
			continue
		}
		emitted += n
	}

	decisionCutoff := now.AddDate(0, 0, -e.cfg.WMDecisionNudgeDays)
	pendingDecisions, err := storage.PendingDecisionsOlderThan(ctx, e.db, decisionCutoff)
	if err != nil {
		return emitted, fmt.Errorf("wmengine: pending decisions: %w", err)
	}
	for _, d := range pendingDecisions {
		n, err := e.writeNudge(ctx, "pending_decision", d.ID, d.Urgency, map[string]any{
			"decision_id": d.ID, "conversation_id": d.ConversationID, "description": d.Description,
		})
		if err != nil {
			e.log.ErrorContext(ctx, "wmengine: pending decision nudge failed", "decision_id", d.ID, "error", err)
			continue
		}
		emitted += n
	}

	return emitted, nil
}

func (e *Engine) writeNudge(ctx context.Context, nudgeType, targetID, urgency string, payload map[string]any) (int, error) {
	payload["nudge_type"] = nudgeType
	payload["urgency"] = urgency
	dedupeKey := fmt.Sprintf("working_memory_nudge:%s:%s:%s", e.cfg.DelegatedUser, nudgeType, targetID)
	_, wrote, err := e.emitter.Write(ctx, e.cfg.DelegatedUser, trigger.TypeWorkingMemoryNudge, payload, dedupeKey, nil)
	if err != nil {
		return 0, err
	}
	if wrote {
		return 1, nil
	}
	return 0, nil
}

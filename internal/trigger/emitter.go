// Package trigger is the outbound notification emitter (C11): it writes
// deduplicated trigger events as JSON files to a durable outbox directory,
// one file per trigger, so a downstream consumer can tail the directory
// without needing to speak to the engine's database directly.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/inboxd/internal/storage"
)

// Routing directs a trigger to a downstream channel (a Slack webhook, an
// SQS-like queue, a push endpoint — left abstract; the consumer tailing
// the outbox interprets it).
type Routing struct {
	Channel string `json:"channel"`
	Target  string `json:"target,omitempty"`
}

// Event is the JSON shape written to the outbox:
// {id, user, type, created_at, payload, routing?}.
type Event struct {
	ID        string         `json:"id"`
	User      string         `json:"user"`
	Type      string         `json:"type"`
	CreatedAt string         `json:"created_at"`
	Payload   map[string]any `json:"payload"`
	Routing   *Routing       `json:"routing,omitempty"`
}

// Recognized trigger types.
const (
	TypeUrgentEmail       = "urgent_email"
	TypeReplyNeeded        = "reply_needed"
	TypeAvailabilityReq    = "availability_requested"
	TypeNoReplyAfterNDays  = "no_reply_after_n_days"
	TypeWeeklyDigestReady  = "weekly_digest_ready"
	TypeWorkingMemoryNudge = "working_memory_nudge"
	TypeAlertRuleTriggered = "alert_rule_triggered"
)

// Emitter writes triggers to an outbox directory, consulting the storage
// layer's dedupe ledger so repeated calls with the same dedupe key emit
// exactly one file.
type Emitter struct {
	db        *storage.DB
	outboxDir string
}

// New constructs an Emitter rooted at outboxDir, creating it if necessary.
func New(db *storage.DB, outboxDir string) (*Emitter, error) {
	if err := os.MkdirAll(outboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("trigger: create outbox dir %s: %w", outboxDir, err)
	}
	return &Emitter{db: db, outboxDir: outboxDir}, nil
}

// Write emits a trigger for user, unless dedupeKey has already claimed a
// prior trigger, in which case it's a no-op. Returns the trigger id
// written (or the prior one, on a dedupe hit) and whether a new file was
// actually written.
func (e *Emitter) Write(ctx context.Context, user, eventType string, payload map[string]any, dedupeKey string, routing *Routing) (string, bool, error) {
	if existing, seen, err := storage.DedupeSeen(ctx, e.db, dedupeKey); err != nil {
		return "", false, err
	} else if seen {
		return existing, false, nil
	}

	id := uuid.NewString()
	evt := Event{
		ID:        id,
		User:      user,
		Type:      eventType,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
		Routing:   routing,
	}

	if err := storage.RecordDedupe(ctx, e.db, dedupeKey, id); err != nil {
		// A racing writer won the dedupe row first; this trigger was
		// already emitted under the same key, so this call is a no-op.
		if existing, seen, seenErr := storage.DedupeSeen(ctx, e.db, dedupeKey); seenErr == nil && seen {
			return existing, false, nil
		}
		return "", false, err
	}

	if err := e.writeFile(evt); err != nil {
		// Release the key so a later cycle can re-emit: a ledger row with
		// no outbox file behind it would permanently swallow this trigger.
		if delErr := storage.DeleteDedupe(ctx, e.db, dedupeKey, id); delErr != nil {
			return "", false, fmt.Errorf("%w (releasing dedupe key also failed: %v)", err, delErr)
		}
		return "", false, err
	}
	return id, true, nil
}

// writeFile persists evt atomically: write to a temp file in the outbox
// directory, then rename into place, so a reader never observes a
// partially-written trigger.
func (e *Emitter) writeFile(evt Event) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("trigger: marshal %s: %w", evt.ID, err)
	}

	final := filepath.Join(e.outboxDir, evt.ID+".json")
	tmp, err := os.CreateTemp(e.outboxDir, ".tmp-"+evt.ID+"-*")
	if err != nil {
		return fmt.Errorf("trigger: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("trigger: write %s: %w", evt.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("trigger: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("trigger: rename into place %s: %w", evt.ID, err)
	}
	return nil
}

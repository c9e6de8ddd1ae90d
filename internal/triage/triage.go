// Package triage is the per-message classification and organization
// engine (C7): it invokes the LLM classifier, applies the resulting
// verdict to the mailbox (Outlook categories or legacy folder moves),
// records the decision, and emits the urgent/reply/availability triggers
// the verdict implies.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jarrod-lowe/inboxd/internal/config"
	"github.com/jarrod-lowe/inboxd/internal/graph"
	"github.com/jarrod-lowe/inboxd/internal/llm"
	"github.com/jarrod-lowe/inboxd/internal/resilience"
	"github.com/jarrod-lowe/inboxd/internal/storage"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
)

var tracer = otel.Tracer("triage")

// folderAliases maps a classifier's freeform destination folder name to
// the engine's closed folder list, so small wording variance ("should
// delete" vs "Should Delete") still resolves to one managed folder.
var folderAliases = map[string]string{
	"urgent":          "Urgent",
	"action required": "Action Required",
	"fyi":             "FYI",
	"newsletters":     "Newsletters",
	"should delete":   "Should Delete",
	"archive":         "Archive",
}

// closedFolderList is the only destination folders the legacy folder
// mode will ever move a message into.
var closedFolderList = map[string]bool{
	"Urgent": true, "Action Required": true, "FYI": true,
	"Newsletters": true, "Should Delete": true, "Archive": true,
}

// urgencyToDueFlag maps the classifier's urgency verdict to Outlook's
// flag-due semantics.
var urgencyToDueFlag = map[string]string{
	"immediate": "today",
	"today":     "today",
	"this_week": "this-week",
	"someday":   "none",
}

// Organizer drives C7 against one delegated mailbox.
type Organizer struct {
	graph      graph.Client
	classifier llm.Classifier
	db         *storage.DB
	emitter    *trigger.Emitter
	cfg        *config.Config
	log        *slog.Logger
}

// New constructs an Organizer.
func New(g graph.Client, classifier llm.Classifier, db *storage.DB, emitter *trigger.Emitter, cfg *config.Config, log *slog.Logger) *Organizer {
	return &Organizer{graph: g, classifier: classifier, db: db, emitter: emitter, cfg: cfg, log: log}
}

// Result summarizes one message's triage outcome, handed to the caller
// (the sync loop) so the working-memory updater knows whether the
// message is a CC-only observation. Processed is false when the
// classifier was unavailable and the message was left un-triaged: such
// a message will be retried next cycle, so downstream per-message stages
// (working memory, facts, chunking, alerts) must not run yet — they run
// exactly once, on the cycle that actually sets processed_at.
type Result struct {
	MessageID     string
	Category      string
	RequiresReply bool
	IsCC          bool
	Processed     bool
}

// ProcessPending triages up to limit messages with a null processed_at,
// oldest first. Each message's work runs in its own transaction; a
// failure on one message is logged and does not block the rest. Only
// messages whose triage actually completed (processed_at set) are
// returned — an unclassified message stays pending and is excluded so
// the caller's downstream stages don't run twice for it.
func (o *Organizer) ProcessPending(ctx context.Context, limit int) ([]Result, error) {
	msgs, err := storage.ListUnprocessed(ctx, o.db, limit)
	if err != nil {
		return nil, fmt.Errorf("triage: list unprocessed: %w", err)
	}

	var results []Result
	for _, m := range msgs {
		res, err := o.ProcessMessage(ctx, m)
		if err != nil {
			o.log.ErrorContext(ctx, "triage message failed", "message_id", m.ID, "error", err)
			continue
		}
		if !res.Processed {
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// ProcessMessage triages a single message: classify, apply the verdict,
// persist, emit triggers. All storage writes run in one transaction;
// on failure processed_at is left unset so the message is retried later.
func (o *Organizer) ProcessMessage(ctx context.Context, m storage.Message) (Result, error) {
	ctx, span := tracer.Start(ctx, "triage.process_message")
	defer span.End()

	verdict, err := o.classify(ctx, m)
	if err != nil {
		// Quota/exhaustion: surface a minimal "unclassified" verdict and
		// leave the message unprocessed so a later cycle retries the real
		// classification.
		o.log.WarnContext(ctx, "classifier failed, using unclassified verdict", "message_id", m.ID, "error", err)
		return Result{MessageID: m.ID, Category: "Unclassified"}, nil
	}

	isCC := isCCOnly(m, o.cfg.DelegatedUser)
	res := Result{MessageID: m.ID, Category: verdict.Category, RequiresReply: verdict.RequiresReply, IsCC: isCC, Processed: true}

	now := time.Now().UTC()
	err = o.db.RunInTx(ctx, func(tx *storage.Tx) error {
		if err := o.applyVerdict(ctx, tx, m, verdict); err != nil {
			return err
		}

		action := verdictAction(verdict)
		destFolder := ""
		if o.cfg.TriageMode == "folder" {
			destFolder = resolveFolder(verdict.DestinationFolder, o.cfg.FolderPrefix)
		}
		reason := verdict.Reason
		if reason == "" {
			reason = verdict.ReplyReason
		}
		if err := storage.AppendTriageLog(ctx, tx, m.ID, action, destFolder, reason); err != nil {
			return err
		}

		if err := storage.ReplaceLabels(ctx, tx, m.ID, verdict.Labels); err != nil {
			return err
		}

		if verdict.RequiresReply {
			if err := storage.UpsertReplyTracking(ctx, tx, m.ID, true, verdict.ReplyReason, m.ReceivedAt); err != nil {
				return err
			}
		}

		if err := storage.MarkProcessed(ctx, tx, m.ID, verdict.Category, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("triage: process message %s: %w", m.ID, err)
	}

	if err := o.emitTriggers(ctx, m, verdict); err != nil {
		// Trigger emission is never retried on failure: the dedupe key
		// lets a later cycle safely re-emit.
		o.log.ErrorContext(ctx, "emit triggers failed", "message_id", m.ID, "error", err)
	}

	return res, nil
}

func (o *Organizer) classify(ctx context.Context, m storage.Message) (llm.TriageVerdict, error) {
	var verdict llm.TriageVerdict
	err := resilience.Retry(ctx, func() error {
		v, err := o.classifier.Classify(ctx, llm.TriageContext{
			Subject:     m.Subject,
			Sender:      m.Sender,
			Preview:     m.BodyPreview,
			IsVIPSender: o.isVIPSender(m.Sender),
			FolderMode:  o.cfg.TriageMode == "folder",
		})
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	return verdict, err
}

func (o *Organizer) isVIPSender(sender string) bool {
	sender = strings.ToLower(extractEmail(sender))
	for _, vip := range o.cfg.VIPSenders {
		if strings.ToLower(vip) == sender {
			return true
		}
	}
	return false
}

// applyVerdict performs the mailbox-mutating side of the verdict: Outlook
// category labels (+ due-date flag) in categories mode, or a move/delete
// call in legacy folder mode.
func (o *Organizer) applyVerdict(ctx context.Context, tx *storage.Tx, m storage.Message, v llm.TriageVerdict) error {
	switch {
	case o.cfg.TriageMode == "folder":
		dest := resolveFolder(v.DestinationFolder, o.cfg.FolderPrefix)
		if isDeleteVerdict(v) {
			return o.graph.Delete(ctx, m.ID)
		}
		if dest != "" {
			return o.graph.Move(ctx, m.ID, dest)
		}
		return nil
	default: // categories mode
		categories := v.OutlookCategories
		if len(categories) == 0 && v.Category != "" {
			categories = []string{v.Category}
		}
		update := graph.MessageUpdate{Categories: categories}
		if due, ok := urgencyToDueFlag[verdictUrgency(v)]; ok && due != "none" {
			t := dueFlagTime(due)
			update.FlagDue = &t
		}
		if err := o.graph.UpdateMessage(ctx, m.ID, update); err != nil {
			return err
		}
		if isDeleteVerdict(v) {
			return o.graph.Move(ctx, m.ID, resolveFolder("Should Delete", o.cfg.FolderPrefix))
		}
		return nil
	}
}

func (o *Organizer) emitTriggers(ctx context.Context, m storage.Message, v llm.TriageVerdict) error {
	if isUrgent(v) {
		_, _, err := o.emitter.Write(ctx, o.cfg.DelegatedUser, trigger.TypeUrgentEmail, map[string]any{
			"message_id": m.ID, "subject": m.Subject, "sender": m.Sender, "category": v.Category,
		}, fmt.Sprintf("urgent_email:%s:%s", o.cfg.DelegatedUser, m.ID), nil)
		if err != nil {
			return err
		}
	}
	if v.RequiresReply {
		_, _, err := o.emitter.Write(ctx, o.cfg.DelegatedUser, trigger.TypeReplyNeeded, map[string]any{
			"message_id": m.ID, "subject": m.Subject, "reason": v.ReplyReason,
		}, fmt.Sprintf("reply_needed:%s:%s", o.cfg.DelegatedUser, m.ID), nil)
		if err != nil {
			return err
		}
	}
	if v.IsAvailabilityReq {
		payload := map[string]any{
			"message_id": m.ID, "subject": m.Subject, "sender": m.Sender,
		}
		if a := v.Availability; a != nil {
			payload["window_start"] = a.WindowStart
			payload["window_end"] = a.WindowEnd
			payload["duration_minutes"] = a.DurationMins
			payload["timezone"] = a.Timezone
			payload["constraints"] = a.Constraints
			payload["proposed_slots"] = a.ProposedSlots
		}
		_, _, err := o.emitter.Write(ctx, o.cfg.DelegatedUser, trigger.TypeAvailabilityReq, payload,
			fmt.Sprintf("availability_requested:%s:%s", o.cfg.DelegatedUser, m.ID), nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// FollowUp scans reply-tracking rows whose last activity predates
// cfg.FollowupNDays, haven't already had a nudge scheduled, and emits
// no_reply_after_n_days for each.
func (o *Organizer) FollowUp(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -o.cfg.FollowupNDays)
	ids, err := storage.OverdueReplies(ctx, o.db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("triage: overdue replies: %w", err)
	}

	emitted := 0
	for _, id := range ids {
		now := time.Now().UTC()
		_, wrote, err := o.emitter.Write(ctx, o.cfg.DelegatedUser, trigger.TypeNoReplyAfterNDays, map[string]any{
			"message_id": id,
		}, fmt.Sprintf("no_reply_after_n_days:%s:%s", o.cfg.DelegatedUser, id), nil)
		if err != nil {
			o.log.ErrorContext(ctx, "follow-up trigger failed", "message_id", id, "error", err)
			continue
		}
		if err := storage.MarkNudgeScheduled(ctx, o.db, id, now); err != nil {
			return emitted, err
		}
		if wrote {
			emitted++
		}
	}
	return emitted, nil
}

func verdictAction(v llm.TriageVerdict) string {
	if v.Action != "" {
		return v.Action
	}
	switch {
	case strings.EqualFold(v.Category, "delete"):
		return "delete"
	case v.DestinationFolder != "":
		return "move"
	default:
		return "none"
	}
}

func isDeleteVerdict(v llm.TriageVerdict) bool {
	return strings.EqualFold(v.Action, "delete") ||
		strings.EqualFold(v.Category, "delete") ||
		strings.EqualFold(v.DestinationFolder, "delete")
}

// verdictUrgency prefers the classifier's explicit urgency, deriving one
// from the category only when the verdict left it blank.
func verdictUrgency(v llm.TriageVerdict) string {
	if v.Urgency != "" {
		return v.Urgency
	}
	switch {
	case strings.EqualFold(v.Category, "Urgent"):
		return "immediate"
	case strings.EqualFold(v.Category, "Action Required"):
		return "today"
	default:
		return "someday"
	}
}

func isUrgent(v llm.TriageVerdict) bool {
	return strings.EqualFold(v.Category, "Urgent") || strings.EqualFold(v.Action, "mark_important")
}

func resolveFolder(name, prefix string) string {
	if name == "" {
		return ""
	}
	canon := folderAliases[strings.ToLower(strings.TrimSpace(name))]
	if canon == "" {
		canon = name
	}
	if !closedFolderList[canon] {
		return ""
	}
	return prefix + canon
}

func dueFlagTime(due string) time.Time {
	now := time.Now().UTC()
	switch due {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, time.UTC)
	case "this-week":
		return now.AddDate(0, 0, 7)
	default:
		return now
	}
}

// isCCOnly reports whether the delegated user appears in CC but not TO.
// A user in TO is never CC-only, regardless of CC presence.
func isCCOnly(m storage.Message, userEmail string) bool {
	user := strings.ToLower(userEmail)
	for _, to := range m.ToEmails {
		if strings.Contains(strings.ToLower(to), user) {
			return false
		}
	}
	for _, cc := range m.CCEmails {
		if strings.Contains(strings.ToLower(cc), user) {
			return true
		}
	}
	return false
}

func extractEmail(s string) string {
	if i := strings.Index(s, "<"); i >= 0 {
		s = s[i+1:]
		s = strings.TrimSuffix(s, ">")
	}
	return strings.TrimSpace(s)
}

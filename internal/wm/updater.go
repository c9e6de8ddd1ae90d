// Package wm is the working-memory updater (C8): for each message, after
// triage, it calls the LLM analyzer and folds the result into threads,
// contacts, projects, observations, decisions, and commitments — the
// engine's persistent model of what the user is attending to.
package wm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/inboxd/internal/llm"
	"github.com/jarrod-lowe/inboxd/internal/resilience"
	"github.com/jarrod-lowe/inboxd/internal/storage"
)

var tracer = otel.Tracer("wm")

// urgencyRank orders urgency levels from least to most severe so
// escalation can take the max of two values.
var urgencyRank = map[string]int{
	"someday":   0,
	"this_week": 1,
	"today":     2,
	"immediate": 3,
}

// maxBodyChars bounds how much message body is handed to the analyzer.
const maxBodyChars = 8000

// Updater drives C8 against one delegated mailbox.
type Updater struct {
	analyzer  llm.Analyzer
	db        *storage.DB
	userEmail string
	log       *slog.Logger
}

// New constructs an Updater. userEmail is the delegated mailbox's own
// address, used to exclude the user from contacts/participants and to
// derive the internal-domain check.
func New(analyzer llm.Analyzer, db *storage.DB, userEmail string, log *slog.Logger) *Updater {
	return &Updater{analyzer: analyzer, db: db, userEmail: strings.ToLower(userEmail), log: log}
}

// Update runs the working-memory analysis for one message and folds the
// result into storage inside a single transaction. isCC is the triage
// engine's CC classification for this message.
func (u *Updater) Update(ctx context.Context, m storage.Message, isCC bool) error {
	ctx, span := tracer.Start(ctx, "wm.update")
	defer span.End()

	body := m.BodyText
	if body == "" {
		body = m.BodyHTML
	}
	if body == "" {
		body = m.BodyPreview
	}
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}

	conversationID := m.ConversationID
	if conversationID == "" {
		conversationID = m.ID
	}

	var analysis llm.EmailAnalysis
	err := resilience.Retry(ctx, func() error {
		a, err := u.analyzer.Analyze(ctx, llm.AnalysisContext{
			ConversationID: conversationID,
			Subject:        m.Subject,
			Sender:         m.Sender,
			Body:           body,
			IsCC:           isCC,
		})
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	if err != nil {
		// Proceed with an empty analysis so threads/contacts/basic
		// observations still update.
		u.log.WarnContext(ctx, "analyzer failed, proceeding with empty analysis", "message_id", m.ID, "error", err)
		analysis = llm.EmailAnalysis{}
	}

	return u.db.RunInTx(ctx, func(tx *storage.Tx) error {
		if err := u.upsertThread(ctx, tx, m, conversationID, isCC, analysis); err != nil {
			return err
		}
		if err := u.updateContacts(ctx, tx, m); err != nil {
			return err
		}
		if err := u.recordObservations(ctx, tx, m, conversationID, isCC, analysis); err != nil {
			return err
		}
		if !isCC {
			if err := u.recordDecisions(ctx, tx, conversationID, analysis); err != nil {
				return err
			}
		}
		if err := u.recordCommitments(ctx, tx, conversationID, analysis); err != nil {
			return err
		}
		if err := u.updateProjects(ctx, tx, conversationID, analysis); err != nil {
			return err
		}
		return storage.UpdateMessageWMFields(ctx, tx, m.ID, analysis.ExtractedNewContent, analysis.SignatureBlock, analysis.ThreadSummary, analysis.SuggestedAction)
	})
}

func (u *Updater) upsertThread(ctx context.Context, tx *storage.Tx, m storage.Message, conversationID string, isCC bool, analysis llm.EmailAnalysis) error {
	existing, err := storage.GetThread(ctx, tx, conversationID)
	if err != nil {
		return err
	}

	t := storage.Thread{
		ConversationID: conversationID,
		Subject:        m.Subject,
		LastActivityAt:  m.ReceivedAt,
		LatestMessageID: m.ID,
		WebLink:         m.WebLinkURL,
	}

	participants := mergeParticipants(nil, m)
	keyPoints := analysis.KeyPoints
	needsReply := analysis.NeedsReply
	urgency := analysis.SuggestedUrgency
	status := "active"
	messageCount := 1
	started := m.ReceivedAt
	userIsCC := isCC || (existing != nil && existing.UserIsCC)

	if existing != nil {
		participants = mergeParticipants(existing.Participants, m)
		keyPoints = mergeKeyPoints(existing.KeyPoints, analysis.KeyPoints)
		needsReply = existing.NeedsReply || analysis.NeedsReply
		urgency = escalateUrgency(existing.Urgency, analysis.SuggestedUrgency)
		status = existing.Status
		if status == "stale" || status == "resolved" || status == "archived" {
			status = "active"
		}
		messageCount = existing.MessageCount + 1
		started = existing.StartedAt
	}
	if urgency == "" {
		urgency = "someday"
	}

	t.Participants = participants
	t.KeyPoints = keyPoints
	t.PendingQuestions = analysis.PendingQuestions
	t.NeedsReply = needsReply
	t.Urgency = urgency
	t.Status = status
	t.UserIsCC = userIsCC
	t.MessageCount = messageCount
	t.StartedAt = started
	if analysis.ThreadSummary != "" {
		t.Summary = analysis.ThreadSummary
	} else if existing != nil {
		t.Summary = existing.Summary
	}

	return storage.UpsertThread(ctx, tx, t)
}

func (u *Updater) updateContacts(ctx context.Context, tx *storage.Tx, m storage.Message) error {
	now := m.ReceivedAt
	if senderEmail := extractEmail(m.Sender); senderEmail != "" && !u.isUser(senderEmail) {
		if err := storage.BumpContact(ctx, tx, senderEmail, extractName(m.Sender), storage.RoleSender, u.isInternal(senderEmail), now); err != nil {
			return err
		}
	}
	for _, to := range m.ToEmails {
		email := extractEmail(to)
		if email == "" || u.isUser(email) {
			continue
		}
		if err := storage.BumpContact(ctx, tx, email, extractName(to), storage.RoleTo, u.isInternal(email), now); err != nil {
			return err
		}
	}
	for _, cc := range m.CCEmails {
		email := extractEmail(cc)
		if email == "" || u.isUser(email) {
			continue
		}
		if err := storage.BumpContact(ctx, tx, email, extractName(cc), storage.RoleCC, u.isInternal(email), now); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) recordObservations(ctx context.Context, tx *storage.Tx, m storage.Message, conversationID string, isCC bool, analysis llm.EmailAnalysis) error {
	if isCC && len(analysis.Observations) == 0 {
		return storage.InsertObservation(ctx, tx, uuid.NewString(), conversationID, extractEmail(m.Sender),
			fmt.Sprintf("context_learned: cc'd on %q from %s", m.Subject, m.Sender))
	}
	for _, o := range analysis.Observations {
		content := o.Content
		if o.Type != "" {
			content = fmt.Sprintf("%s: %s", o.Type, o.Content)
		}
		if err := storage.InsertObservation(ctx, tx, uuid.NewString(), conversationID, extractEmail(m.Sender), content); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) recordDecisions(ctx context.Context, tx *storage.Tx, conversationID string, analysis llm.EmailAnalysis) error {
	for _, d := range analysis.DecisionsRequested {
		urgency := d.Urgency
		if urgency == "" {
			urgency = "this_week" // default when the analyzer left it blank
		}
		var deadline *time.Time
		if d.Deadline != "" {
			if t, err := time.Parse(time.RFC3339, d.Deadline); err == nil {
				deadline = &t
			}
		}
		if err := storage.InsertDecisionFull(ctx, tx, storage.Decision{
			ID: uuid.NewString(), ConversationID: conversationID, Question: d.Question,
			Description: d.Question, Context: d.Context, Options: d.Options,
			Source: d.Source, Requester: d.Requester, Urgency: urgency, Deadline: deadline,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) recordCommitments(ctx context.Context, tx *storage.Tx, conversationID string, analysis llm.EmailAnalysis) error {
	for _, c := range analysis.Commitments {
		var dueAt *time.Time
		if c.DueBy != "" {
			if t, err := time.Parse(time.RFC3339, c.DueBy); err == nil {
				dueAt = &t
			}
		}
		if err := storage.InsertCommitmentFull(ctx, tx, storage.Commitment{
			ID: uuid.NewString(), ConversationID: conversationID, OwnerEmail: c.OwnerEmail,
			ToWhom: c.ToWhom, Description: c.Description, DueAt: dueAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) updateProjects(ctx context.Context, tx *storage.Tx, conversationID string, analysis llm.EmailAnalysis) error {
	for _, p := range analysis.Projects {
		key := strings.ToLower(strings.TrimSpace(p))
		if key == "" {
			continue
		}
		if err := storage.UpsertProject(ctx, tx, key, p, conversationID); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) isUser(email string) bool {
	return u.userEmail != "" && strings.ToLower(email) == u.userEmail
}

// isInternal reports whether email shares the delegated user's domain.
func (u *Updater) isInternal(email string) bool {
	domain := userDomain(u.userEmail)
	if domain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(email), "@"+domain)
}

func userDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}

func mergeParticipants(existing []string, m storage.Message) []string {
	seen := map[string]bool{}
	var out []string
	add := func(addr string) {
		email := extractEmail(addr)
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		out = append(out, email)
	}
	for _, e := range existing {
		add(e)
	}
	add(m.Sender)
	for _, to := range m.ToEmails {
		add(to)
	}
	for _, cc := range m.CCEmails {
		add(cc)
	}
	return out
}

// mergeKeyPoints appends fresh key points to the existing list, keeping
// only the most recent 10.
func mergeKeyPoints(existing, fresh []string) []string {
	merged := append(append([]string{}, existing...), fresh...)
	if len(merged) > 10 {
		merged = merged[len(merged)-10:]
	}
	return merged
}

// escalateUrgency returns the more severe of the two urgency levels,
// leaving the existing value unchanged when fresh is empty or
// unrecognized — urgency only ever escalates from new analysis, never
// de-escalates.
func escalateUrgency(existing, fresh string) string {
	if fresh == "" {
		return existing
	}
	if existing == "" {
		return fresh
	}
	if urgencyRank[fresh] > urgencyRank[existing] {
		return fresh
	}
	return existing
}

func extractEmail(s string) string {
	if i := strings.Index(s, "<"); i >= 0 {
		s = s[i+1:]
		s = strings.TrimSuffix(s, ">")
	}
	return strings.TrimSpace(strings.ToLower(s))
}

func extractName(s string) string {
	if i := strings.Index(s, "<"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return ""
}

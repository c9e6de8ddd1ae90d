package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Thread is the working-memory row for one conversation.
type Thread struct {
	ConversationID   string
	Subject          string
	Participants     []string
	MessageCount     int
	KeyPoints        []string
	PendingQuestions []string
	NeedsReply       bool
	Urgency          string // immediate|today|this_week|someday
	Status           string // active|awaiting_reply|awaiting_action|stale|resolved|archived
	UserIsCC         bool
	ReplyDeadline    *time.Time
	Labels           []string
	ProjectRefs      []string
	LatestMessageID  string
	WebLink          string
	Summary          string
	StartedAt        time.Time
	LastActivityAt   time.Time
}

// GetThread fetches a thread by conversation id.
func GetThread(ctx context.Context, e execer, conversationID string) (*Thread, error) {
	row := e.QueryRowContext(ctx, `
		SELECT conversation_id, subject, participants_json, message_count, key_points_json, pending_questions_json,
			needs_reply, urgency, status, user_is_cc, reply_deadline, labels_json, project_refs_json,
			latest_message_id, web_link, summary, started_at, last_activity_at
		FROM wm_threads WHERE conversation_id = ?`, conversationID)
	var t Thread
	var partJSON, kpJSON, pqJSON, labelsJSON, projJSON sql.NullString
	var replyDeadline, startedAt sql.NullTime
	var latestMsg, webLink, summary sql.NullString
	err := row.Scan(&t.ConversationID, &t.Subject, &partJSON, &t.MessageCount, &kpJSON, &pqJSON,
		&t.NeedsReply, &t.Urgency, &t.Status, &t.UserIsCC, &replyDeadline, &labelsJSON, &projJSON,
		&latestMsg, &webLink, &summary, &startedAt, &t.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get thread %s: %w", conversationID, err)
	}
	_ = json.Unmarshal([]byte(partJSON.String), &t.Participants)
	_ = json.Unmarshal([]byte(kpJSON.String), &t.KeyPoints)
	_ = json.Unmarshal([]byte(pqJSON.String), &t.PendingQuestions)
	_ = json.Unmarshal([]byte(labelsJSON.String), &t.Labels)
	_ = json.Unmarshal([]byte(projJSON.String), &t.ProjectRefs)
	if replyDeadline.Valid {
		t.ReplyDeadline = &replyDeadline.Time
	}
	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	t.LatestMessageID = latestMsg.String
	t.WebLink = webLink.String
	t.Summary = summary.String
	return &t, nil
}

// UpsertThread inserts or fully replaces a thread's working-memory fields.
// Callers (the WM updater) are expected to have already merged key_points,
// needs_reply, and urgency against the prior state before calling this.
func UpsertThread(ctx context.Context, e execer, t Thread) error {
	partJSON, err := json.Marshal(t.Participants)
	if err != nil {
		return fmt.Errorf("storage: marshal participants: %w", err)
	}
	kpJSON, err := json.Marshal(t.KeyPoints)
	if err != nil {
		return fmt.Errorf("storage: marshal key points: %w", err)
	}
	pqJSON, err := json.Marshal(t.PendingQuestions)
	if err != nil {
		return fmt.Errorf("storage: marshal pending questions: %w", err)
	}
	labelsJSON, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("storage: marshal labels: %w", err)
	}
	projJSON, err := json.Marshal(t.ProjectRefs)
	if err != nil {
		return fmt.Errorf("storage: marshal project refs: %w", err)
	}
	startedAt := t.StartedAt
	if startedAt.IsZero() {
		startedAt = t.LastActivityAt
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO wm_threads (
			conversation_id, subject, participants_json, message_count, key_points_json, pending_questions_json,
			needs_reply, urgency, status, user_is_cc, reply_deadline, labels_json, project_refs_json,
			latest_message_id, web_link, summary, started_at, last_activity_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(conversation_id) DO UPDATE SET
			subject = excluded.subject,
			participants_json = excluded.participants_json,
			message_count = excluded.message_count,
			key_points_json = excluded.key_points_json,
			pending_questions_json = excluded.pending_questions_json,
			needs_reply = excluded.needs_reply,
			urgency = excluded.urgency,
			status = excluded.status,
			user_is_cc = excluded.user_is_cc,
			reply_deadline = excluded.reply_deadline,
			labels_json = excluded.labels_json,
			project_refs_json = excluded.project_refs_json,
			latest_message_id = excluded.latest_message_id,
			web_link = excluded.web_link,
			summary = excluded.summary,
			last_activity_at = excluded.last_activity_at,
			updated_at = CURRENT_TIMESTAMP
	`, t.ConversationID, t.Subject, string(partJSON), t.MessageCount, string(kpJSON), string(pqJSON),
		t.NeedsReply, t.Urgency, t.Status, t.UserIsCC, t.ReplyDeadline, string(labelsJSON), string(projJSON),
		nilIfEmpty(t.LatestMessageID), nilIfEmpty(t.WebLink), nilIfEmpty(t.Summary), startedAt, t.LastActivityAt)
	if err != nil {
		return fmt.Errorf("storage: upsert thread %s: %w", t.ConversationID, err)
	}
	return nil
}

// MarkThreadsStale marks threads whose last activity predates cutoff and
// that are still "active" as "stale". Returns the ids affected.
func MarkThreadsStale(ctx context.Context, e execer, cutoff time.Time) ([]string, error) {
	rows, err := e.QueryContext(ctx, `SELECT conversation_id FROM wm_threads WHERE status = 'active' AND last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: select stale threads: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan stale thread: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if _, err := e.ExecContext(ctx, `UPDATE wm_threads SET status = 'stale' WHERE status = 'active' AND last_activity_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("storage: mark threads stale: %w", err)
	}
	return ids, nil
}

// EscalateNeedsReplyThreads bumps low-urgency threads that still need a
// reply and have sat for longer than cutoff up to "today" — the
// maintenance engine's urgency-escalation step. Resolved/archived threads
// are left alone.
func EscalateNeedsReplyThreads(ctx context.Context, e execer, cutoff time.Time) ([]string, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT conversation_id FROM wm_threads
		WHERE needs_reply = 1 AND urgency IN ('this_week', 'someday')
		AND status NOT IN ('resolved', 'archived') AND last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: select escalation candidates: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan escalation candidate: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if _, err := e.ExecContext(ctx, `
		UPDATE wm_threads SET urgency = 'today'
		WHERE needs_reply = 1 AND urgency IN ('this_week', 'someday')
		AND status NOT IN ('resolved', 'archived') AND last_activity_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("storage: escalate needs-reply threads: %w", err)
	}
	return ids, nil
}

// OverdueReplyThreads returns threads still needing a reply, not already
// resolved or stale, whose last activity predates cutoff — the maintenance
// engine's overdue-reply nudge candidates.
func OverdueReplyThreads(ctx context.Context, e execer, cutoff time.Time) ([]Thread, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT conversation_id, subject, last_activity_at FROM wm_threads
		WHERE needs_reply = 1 AND status NOT IN ('resolved', 'stale', 'archived') AND last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: overdue reply threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ConversationID, &t.Subject, &t.LastActivityAt); err != nil {
			return nil, fmt.Errorf("storage: scan overdue reply thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// StaleUrgentThreads returns still-active, immediate/today-urgency threads
// that have had no activity since cutoff — the maintenance engine's
// stale-urgent-thread nudge candidates (the 24h check, distinct from the
// 3-day staleness cutoff in MarkThreadsStale).
func StaleUrgentThreads(ctx context.Context, e execer, cutoff time.Time) ([]Thread, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT conversation_id, subject, urgency, last_activity_at FROM wm_threads
		WHERE status = 'active' AND urgency IN ('immediate', 'today') AND last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: stale urgent threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ConversationID, &t.Subject, &t.Urgency, &t.LastActivityAt); err != nil {
			return nil, fmt.Errorf("storage: scan stale urgent thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Contact is a working-memory row tracking how often we've seen a sender/recipient.
type Contact struct {
	Email         string
	Name          string
	Organization  string
	Relationship  string // vip|colleague|client|vendor|recruiter|unknown
	MentionCount  int
	TheyInitiated int
	UserInitiated int
	CCCount       int
	IsInternal    bool
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// ContactRole is which slot a message placed a contact in, driving which
// counter BumpContact increments.
type ContactRole int

const (
	RoleSender ContactRole = iota
	RoleTo
	RoleCC
)

// BumpContact increments a contact's role-specific counter and mention
// total, creating the row (with first_seen_at) on first sight.
func BumpContact(ctx context.Context, e execer, email, name string, role ContactRole, isInternal bool, at time.Time) error {
	var theyInit, userInit, ccCount int
	switch role {
	case RoleSender:
		theyInit = 1
	case RoleTo:
		userInit = 1
	case RoleCC:
		ccCount = 1
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO wm_contacts (email, name, mention_count, they_initiated, user_initiated, cc_count, is_internal, first_seen_at, last_seen_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE wm_contacts.name END,
			mention_count = wm_contacts.mention_count + 1,
			they_initiated = wm_contacts.they_initiated + ?,
			user_initiated = wm_contacts.user_initiated + ?,
			cc_count = wm_contacts.cc_count + ?,
			is_internal = excluded.is_internal,
			last_seen_at = excluded.last_seen_at
	`, email, name, theyInit, userInit, ccCount, isInternal, at, at, theyInit, userInit, ccCount)
	if err != nil {
		return fmt.Errorf("storage: bump contact %s: %w", email, err)
	}
	return nil
}

// SetContactRelationship classifies a contact (vip/colleague/client/vendor/recruiter/unknown).
func SetContactRelationship(ctx context.Context, e execer, email, relationship string) error {
	_, err := e.ExecContext(ctx, `UPDATE wm_contacts SET relationship = ? WHERE email = ?`, relationship, email)
	if err != nil {
		return fmt.Errorf("storage: set contact relationship %s: %w", email, err)
	}
	return nil
}

// Project is a working-memory row for an extracted project/initiative,
// matched case-insensitively by its normalized name_key.
type Project struct {
	NameKey         string
	DisplayName     string
	Confidence      float64
	RelatedThreads  []string
	Status          string
}

// GetProject fetches a project by its case-insensitive key.
func GetProject(ctx context.Context, e execer, nameKey string) (*Project, error) {
	row := e.QueryRowContext(ctx, `
		SELECT name_key, display_name, confidence, related_threads_json, status
		FROM wm_projects WHERE name_key = ?`, nameKey)
	var p Project
	var rtJSON string
	err := row.Scan(&p.NameKey, &p.DisplayName, &p.Confidence, &rtJSON, &p.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get project %s: %w", nameKey, err)
	}
	_ = json.Unmarshal([]byte(rtJSON), &p.RelatedThreads)
	return &p, nil
}

// UpsertProject inserts a new project at confidence 0.3, or on a repeat
// mention bumps confidence by +0.1 (capped at 1.0) and appends the related
// thread (capped at 20 entries, most recent kept).
func UpsertProject(ctx context.Context, e execer, nameKey, displayName, conversationID string) error {
	existing, err := GetProject(ctx, e, nameKey)
	if err != nil {
		return err
	}

	if existing == nil {
		related := []string{}
		if conversationID != "" {
			related = append(related, conversationID)
		}
		rtJSON, _ := json.Marshal(related)
		_, err := e.ExecContext(ctx, `
			INSERT INTO wm_projects (name_key, display_name, confidence, related_threads_json, status)
			VALUES (?, ?, 0.3, ?, 'active')
		`, nameKey, displayName, string(rtJSON))
		if err != nil {
			return fmt.Errorf("storage: insert project %s: %w", nameKey, err)
		}
		return nil
	}

	confidence := existing.Confidence + 0.1
	if confidence > 1.0 {
		confidence = 1.0
	}

	related := existing.RelatedThreads
	if conversationID != "" {
		found := false
		for _, r := range related {
			if r == conversationID {
				found = true
				break
			}
		}
		if !found {
			related = append(related, conversationID)
			if len(related) > 20 {
				related = related[len(related)-20:]
			}
		}
	}
	rtJSON, _ := json.Marshal(related)

	_, err = e.ExecContext(ctx, `
		UPDATE wm_projects SET confidence = ?, related_threads_json = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name_key = ?
	`, confidence, string(rtJSON), nameKey)
	if err != nil {
		return fmt.Errorf("storage: update project %s: %w", nameKey, err)
	}
	return nil
}

// InsertObservation appends a working-memory observation.
func InsertObservation(ctx context.Context, e execer, id, conversationID, contactEmail, content string) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO wm_observations (id, conversation_id, contact_email, content) VALUES (?, ?, ?, ?)
	`, id, nilIfEmpty(conversationID), nilIfEmpty(contactEmail), content)
	if err != nil {
		return fmt.Errorf("storage: insert observation %s: %w", id, err)
	}
	return nil
}

// PruneObservations deletes observations older than cutoff, returning the
// count removed.
func PruneObservations(ctx context.Context, e execer, cutoff time.Time) (int, error) {
	res, err := e.ExecContext(ctx, `DELETE FROM wm_observations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: prune observations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Decision is a pending-decision row, only recorded for direct (non-CC) messages.
type Decision struct {
	ID             string
	ConversationID string
	Question       string
	Context        string
	Options        []string
	Description    string
	Status         string // pending|resolved
	Source         string
	Requester      string
	Urgency        string
	Deadline       *time.Time
	CreatedAt      time.Time
}

// InsertDecision appends a pending decision.
func InsertDecision(ctx context.Context, e execer, id, conversationID, description, urgency string) error {
	return InsertDecisionFull(ctx, e, Decision{
		ID: id, ConversationID: conversationID, Question: description,
		Description: description, Urgency: urgency,
	})
}

// InsertDecisionFull appends a pending decision carrying its full
// question/context/options/source/requester/deadline detail.
func InsertDecisionFull(ctx context.Context, e execer, d Decision) error {
	optJSON, err := json.Marshal(d.Options)
	if err != nil {
		return fmt.Errorf("storage: marshal decision options: %w", err)
	}
	desc := d.Description
	if desc == "" {
		desc = d.Question
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO wm_decisions (id, conversation_id, description, urgency, question, context, options_json, source, requester, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ConversationID, desc, d.Urgency, nilIfEmpty(d.Question), nilIfEmpty(d.Context), string(optJSON), nilIfEmpty(d.Source), nilIfEmpty(d.Requester), d.Deadline)
	if err != nil {
		return fmt.Errorf("storage: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// PendingDecisionsOlderThan returns still-pending decisions created before cutoff.
func PendingDecisionsOlderThan(ctx context.Context, e execer, cutoff time.Time) ([]Decision, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, conversation_id, description, status, urgency, created_at
		FROM wm_decisions WHERE status = 'pending' AND created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: pending decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Description, &d.Status, &d.Urgency, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// EscalateOldPendingDecisions bumps still-pending, low-urgency decisions
// older than cutoff to "today".
func EscalateOldPendingDecisions(ctx context.Context, e execer, cutoff time.Time) error {
	_, err := e.ExecContext(ctx, `
		UPDATE wm_decisions SET urgency = 'today' WHERE status = 'pending' AND urgency IN ('this_week', 'someday') AND created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("storage: escalate old pending decisions: %w", err)
	}
	return nil
}

// Commitment is something the user (or a contact) promised to do.
type Commitment struct {
	ID             string
	ConversationID string
	OwnerEmail     string
	ToWhom         string
	Description    string
	DueAt          *time.Time
	Status         string // open|done
	CreatedAt      time.Time
}

// InsertCommitment appends a commitment — recorded regardless of CC status.
func InsertCommitment(ctx context.Context, e execer, id, conversationID, ownerEmail, description string, dueAt *time.Time) error {
	return InsertCommitmentFull(ctx, e, Commitment{ID: id, ConversationID: conversationID, OwnerEmail: ownerEmail, Description: description, DueAt: dueAt})
}

// InsertCommitmentFull appends a commitment carrying its to_whom detail.
func InsertCommitmentFull(ctx context.Context, e execer, c Commitment) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO wm_commitments (id, conversation_id, owner_email, to_whom, description, due_at) VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ConversationID, c.OwnerEmail, nilIfEmpty(c.ToWhom), c.Description, c.DueAt)
	if err != nil {
		return fmt.Errorf("storage: insert commitment %s: %w", c.ID, err)
	}
	return nil
}

// OverdueCommitments returns open commitments whose due_at predates cutoff.
func OverdueCommitments(ctx context.Context, e execer, cutoff time.Time) ([]Commitment, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, conversation_id, owner_email, description, due_at, status, created_at
		FROM wm_commitments WHERE status = 'open' AND due_at IS NOT NULL AND due_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: overdue commitments: %w", err)
	}
	defer rows.Close()

	var out []Commitment
	for rows.Next() {
		var c Commitment
		var dueAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.OwnerEmail, &c.Description, &dueAt, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan commitment: %w", err)
		}
		if dueAt.Valid {
			c.DueAt = &dueAt.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

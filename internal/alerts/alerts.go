// Package alerts is the alert rules engine (C10): rules are compiled once,
// at creation time, from a natural-language description into typed
// conditions; evaluation against each incoming event is a fast boolean
// match with an optional LLM semantic-match fallback.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/inboxd/internal/config"
	"github.com/jarrod-lowe/inboxd/internal/llm"
	"github.com/jarrod-lowe/inboxd/internal/resilience"
	"github.com/jarrod-lowe/inboxd/internal/storage"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
)

var tracer = otel.Tracer("alerts")

// Event is one occurrence the rules engine evaluates rules against.
type Event struct {
	Type       string // email_received|email_sent|wm_thread|wm_commitment|wm_decision
	ID         string // stable id for the (rule,event) uniqueness check
	Sender     string
	Recipients []string
	Subject    string
	Body       string
	Urgency    string
	Labels     []string
	Categories []string
	WMType     string // thread|commitment|decision, for wm_* event types
	IsOverdue  bool

	// Summary feeds the optional semantic-match pass.
	Summary string
}

// Engine evaluates alert rules against events and emits matches via the
// trigger outbox.
type Engine struct {
	db         *storage.DB
	emitter    *trigger.Emitter
	parser     llm.RuleParser
	semantic   llm.SemanticMatcher // may be nil: rules requiring it just never match
	cfg        *config.Config
	log        *slog.Logger
}

// New constructs an Engine. semantic may be nil if no semantic-match
// collaborator is configured; rules that set RequiresSemanticMatch will
// then never fire.
func New(db *storage.DB, emitter *trigger.Emitter, parser llm.RuleParser, semantic llm.SemanticMatcher, cfg *config.Config, log *slog.Logger) *Engine {
	return &Engine{db: db, emitter: emitter, parser: parser, semantic: semantic, cfg: cfg, log: log}
}

// RuleRouting directs a rule's triggers to a downstream channel/target.
type RuleRouting struct {
	Channel string
	Target  string
}

// CreateRule compiles a natural-language description into a stored rule,
// via a single LLM parse call at creation time — never re-parsed on
// subsequent evaluations. An empty eventType leaves the rule bound to the
// event-type set the parser inferred; routing may be nil.
func (e *Engine) CreateRule(ctx context.Context, name, description, eventType string, cooldown *time.Duration, routing *RuleRouting) (string, error) {
	var conditions llm.ParsedConditions
	err := resilience.Retry(ctx, func() error {
		c, err := e.parser.ParseRule(ctx, description)
		if err != nil {
			return err
		}
		conditions = c
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("alerts: parse rule %q: %w", name, err)
	}
	if eventType == "" && len(conditions.EventTypes) == 1 {
		eventType = conditions.EventTypes[0]
	}

	matchMode := conditions.MatchMode
	if matchMode == "" {
		matchMode = "any"
	}

	condJSON, err := json.Marshal(conditions)
	if err != nil {
		return "", fmt.Errorf("alerts: marshal conditions: %w", err)
	}

	var cooldownMinutes *int
	if cooldown != nil {
		m := int(cooldown.Minutes())
		cooldownMinutes = &m
	} else if e.cfg.AlertDefaultCooldown > 0 {
		m := int(e.cfg.AlertDefaultCooldown.Minutes())
		cooldownMinutes = &m
	}

	rule := storage.AlertRule{
		ID: uuid.NewString(), Name: name, Description: description, EventType: eventType,
		ConditionsJSON: string(condJSON), MatchMode: matchMode, CooldownMinutes: cooldownMinutes, Enabled: true,
	}
	if routing != nil {
		rule.Channel = routing.Channel
		rule.Target = routing.Target
	}
	if err := storage.InsertAlertRule(ctx, e.db, rule); err != nil {
		return "", err
	}
	return rule.ID, nil
}

// Evaluate runs every enabled rule for ev.Type against ev, emitting
// alert_rule_triggered for each match. Returns the count of rules that fired.
func (e *Engine) Evaluate(ctx context.Context, ev Event) (int, error) {
	ctx, span := tracer.Start(ctx, "alerts.evaluate")
	defer span.End()

	rules, err := storage.RulesForEventType(ctx, e.db, ev.Type)
	if err != nil {
		return 0, fmt.Errorf("alerts: rules for event type %s: %w", ev.Type, err)
	}

	fired := 0
	now := time.Now().UTC()
	for _, r := range rules {
		ok, err := e.evaluateRule(ctx, r, ev, now)
		if err != nil {
			e.log.ErrorContext(ctx, "alerts: rule evaluation failed", "rule_id", r.ID, "error", err)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (e *Engine) evaluateRule(ctx context.Context, r storage.AlertRule, ev Event, now time.Time) (bool, error) {
	var conditions llm.ParsedConditions
	if err := json.Unmarshal([]byte(r.ConditionsJSON), &conditions); err != nil {
		return false, fmt.Errorf("unmarshal conditions for rule %s: %w", r.ID, err)
	}

	// Step 1: event-type filter. RulesForEventType pre-filters on the
	// stored single type; rules stored without one carry the set in their
	// compiled conditions instead.
	if r.EventType == "" && len(conditions.EventTypes) > 0 && !containsFold(conditions.EventTypes, ev.Type) {
		return false, nil
	}

	// Step 2: per-(rule,event) uniqueness.
	seen, err := storage.HasFired(ctx, e.db, r.ID, ev.Type, ev.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	// Step 3: cooldown window.
	if r.LastTriggeredAt != nil && r.CooldownMinutes != nil {
		if now.Sub(*r.LastTriggeredAt) < time.Duration(*r.CooldownMinutes)*time.Minute {
			return false, nil
		}
	}

	// Step 4: fast boolean match.
	matched, matchReason := matchConditions(conditions, ev)
	if !matched {
		return false, nil
	}

	// Step 5: optional semantic-match pass.
	if conditions.RequiresSemanticMatch {
		if e.semantic == nil {
			return false, nil
		}
		var ok bool
		err := resilience.Retry(ctx, func() error {
			matched, err := e.semantic.Match(ctx, conditions.SemanticQuery, ev.Summary)
			if err != nil {
				return err
			}
			ok = matched
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("semantic match rule %s: %w", r.ID, err)
		}
		if !ok {
			return false, nil
		}
		matchReason = appendReason(matchReason, "semantic match")
	}

	// Step 6: record the fire and emit.
	triggerID := uuid.NewString()
	if err := storage.RecordAlertFire(ctx, e.db, triggerID, r.ID, ev.Type, ev.ID, matchReason, now); err != nil {
		return false, err
	}

	var routing *trigger.Routing
	if r.Channel != "" {
		routing = &trigger.Routing{Channel: r.Channel, Target: r.Target}
	}
	_, _, err = e.emitter.Write(ctx, e.cfg.DelegatedUser, trigger.TypeAlertRuleTriggered, map[string]any{
		"rule_id": r.ID, "rule_name": r.Name, "event_type": ev.Type, "event_id": ev.ID,
		"subject": ev.Subject, "match_reason": matchReason,
	}, fmt.Sprintf("alert_rule_triggered:%s:%s:%s", r.ID, ev.Type, ev.ID), routing)
	if err != nil {
		return true, err
	}
	return true, nil
}

// matchConditions applies the fast boolean match per match_mode (any/all),
// returning whether the event matched and a short description of which
// condition categories matched. A condition category with zero patterns is
// ignored rather than counted as a failing check.
func matchConditions(c llm.ParsedConditions, ev Event) (bool, string) {
	type check struct {
		name string
		ok   bool
	}
	var checks []check

	if len(c.SenderPatterns) > 0 {
		checks = append(checks, check{"sender", matchAnyGlob(c.SenderPatterns, ev.Sender)})
	}
	if len(c.RecipientPatterns) > 0 {
		matched := false
		for _, r := range ev.Recipients {
			if matchAnyGlob(c.RecipientPatterns, r) {
				matched = true
				break
			}
		}
		checks = append(checks, check{"recipient", matched})
	}
	if len(c.SubjectKeywords) > 0 {
		checks = append(checks, check{"subject", containsAnyKeyword(ev.Subject, c.SubjectKeywords)})
	}
	if len(c.BodyKeywords) > 0 {
		checks = append(checks, check{"body", containsAnyKeyword(ev.Body, c.BodyKeywords)})
	}
	if len(c.UrgencyLevels) > 0 {
		checks = append(checks, check{"urgency", containsFold(c.UrgencyLevels, ev.Urgency)})
	}
	if len(c.Labels) > 0 {
		checks = append(checks, check{"labels", intersects(c.Labels, ev.Labels)})
	}
	if len(c.Categories) > 0 {
		checks = append(checks, check{"categories", intersects(c.Categories, ev.Categories)})
	}
	if len(c.WMTypes) > 0 {
		checks = append(checks, check{"wm_type", containsFold(c.WMTypes, ev.WMType)})
	}
	if c.OverdueOnly {
		checks = append(checks, check{"overdue", ev.IsOverdue})
	}
	if len(checks) == 0 {
		return true, "no conditions configured"
	}

	var hit []string
	for _, ch := range checks {
		if ch.ok {
			hit = append(hit, ch.name)
		}
	}
	reason := "matched: " + strings.Join(hit, ", ")

	if strings.EqualFold(c.MatchMode, "all") {
		return len(hit) == len(checks), reason
	}
	return len(hit) > 0, reason
}

func appendReason(reason, extra string) string {
	if reason == "" {
		return extra
	}
	return reason + "; " + extra
}

// matchAnyGlob reports whether value matches any of patterns, each a `*`
// glob compiled to a case-insensitive regex on use (never persisted as
// regex).
func matchAnyGlob(patterns []string, value string) bool {
	for _, p := range patterns {
		if globMatch(p, value) {
			return true
		}
	}
	return false
}

func globMatch(pattern, value string) bool {
	re, err := globToRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\', '?':
			b.WriteString(regexp.QuoteMeta(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func containsAnyKeyword(haystack string, keywords []string) bool {
	h := strings.ToLower(haystack)
	for _, k := range keywords {
		if strings.Contains(h, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func intersects(want, have []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[strings.ToLower(h)] = true
	}
	for _, w := range want {
		if set[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AlertRule is a compiled natural-language alert rule. An empty EventType
// means the rule applies to every event type its compiled conditions name.
type AlertRule struct {
	ID              string
	Name            string
	Description     string
	EventType       string // email_received|email_sent|wm_thread|wm_commitment|wm_decision, or "" for condition-driven
	ConditionsJSON  string
	MatchMode       string // any|all
	CooldownMinutes *int
	Channel         string
	Target          string
	Enabled         bool
	LastTriggeredAt *time.Time
	TriggerCount    int
}

// InsertAlertRule stores a newly parsed rule.
func InsertAlertRule(ctx context.Context, e execer, r AlertRule) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO alert_rules (id, name, description, event_type, conditions_json, match_mode, cooldown_minutes, channel, target, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Description, r.EventType, r.ConditionsJSON, r.MatchMode, r.CooldownMinutes, nilIfEmpty(r.Channel), nilIfEmpty(r.Target), r.Enabled)
	if err != nil {
		return fmt.Errorf("storage: insert alert rule %s: %w", r.ID, err)
	}
	return nil
}

// RulesForEventType returns enabled rules for a given event type, including
// rules stored without a single event type (their compiled conditions carry
// the event-type set instead).
func RulesForEventType(ctx context.Context, e execer, eventType string) ([]AlertRule, error) {
	rows, err := e.QueryContext(ctx, `
		SELECT id, name, description, event_type, conditions_json, match_mode, cooldown_minutes, channel, target, enabled, last_triggered_at, trigger_count
		FROM alert_rules WHERE (event_type = ? OR event_type = '') AND enabled = 1`, eventType)
	if err != nil {
		return nil, fmt.Errorf("storage: rules for event type %s: %w", eventType, err)
	}
	defer rows.Close()

	var out []AlertRule
	for rows.Next() {
		var r AlertRule
		var cooldown sql.NullInt64
		var channel, target sql.NullString
		var lastTrig sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.EventType, &r.ConditionsJSON, &r.MatchMode, &cooldown, &channel, &target, &r.Enabled, &lastTrig, &r.TriggerCount); err != nil {
			return nil, fmt.Errorf("storage: scan alert rule: %w", err)
		}
		if cooldown.Valid {
			v := int(cooldown.Int64)
			r.CooldownMinutes = &v
		}
		r.Channel = channel.String
		r.Target = target.String
		if lastTrig.Valid {
			r.LastTriggeredAt = &lastTrig.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasFired reports whether (rule, eventType, eventID) has already recorded
// a trigger — the per-event uniqueness guard independent of cooldown.
func HasFired(ctx context.Context, e execer, ruleID, eventType, eventID string) (bool, error) {
	var n int
	err := e.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alert_triggers WHERE rule_id = ? AND event_type = ? AND event_id = ?`,
		ruleID, eventType, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: has fired: %w", err)
	}
	return n > 0, nil
}

// RecordAlertFire records a rule firing (with the reason it matched) and
// bumps the rule's trigger_count/last_triggered_at.
func RecordAlertFire(ctx context.Context, e execer, triggerID, ruleID, eventType, eventID, matchReason string, at time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO alert_triggers (id, rule_id, event_type, event_id, match_reason, fired_at) VALUES (?, ?, ?, ?, ?, ?)
	`, triggerID, ruleID, eventType, eventID, nilIfEmpty(matchReason), at)
	if err != nil {
		return fmt.Errorf("storage: record alert fire: %w", err)
	}
	_, err = e.ExecContext(ctx, `
		UPDATE alert_rules SET last_triggered_at = ?, trigger_count = trigger_count + 1 WHERE id = ?`, at, ruleID)
	if err != nil {
		return fmt.Errorf("storage: bump alert rule counters %s: %w", ruleID, err)
	}
	return nil
}

package triage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jarrod-lowe/inboxd/internal/storage"
	"github.com/jarrod-lowe/inboxd/internal/trigger"
)

// digestWindow is how far around the configured digest day/hour the
// check tolerates, so a poll interval that doesn't land exactly on the
// target minute still fires once.
const digestWindow = 30 * time.Minute

// WeeklyDigest emits weekly_digest_ready at most once per ISO week, only
// when enabled and the current local time falls within digestWindow of
// the configured day/hour. Returns true if a digest was emitted this call.
func (o *Organizer) WeeklyDigest(ctx context.Context, now time.Time) (bool, error) {
	if !o.cfg.EnableWeeklyDigest {
		return false, nil
	}

	loc, err := time.LoadLocation(o.cfg.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if !strings.EqualFold(local.Weekday().String(), o.cfg.DigestDay) {
		return false, nil
	}
	target, err := parseLocalTimeOfDay(local, o.cfg.DigestTimeLocal)
	if err != nil {
		return false, nil
	}
	if local.Sub(target).Abs() > digestWindow {
		return false, nil
	}

	year, week := local.ISOWeek()
	dedupeKey := fmt.Sprintf("weekly_digest_ready:%s:%d-W%02d", o.cfg.DelegatedUser, year, week)

	since := local.AddDate(0, 0, -7)
	stats, err := storage.TriageStats(ctx, o.db, since)
	if err != nil {
		return false, fmt.Errorf("triage: digest stats: %w", err)
	}

	topItems, err := storage.RecentMessagesInCategories(ctx, o.db, []string{"Urgent", "Action Required", "FYI"}, since, 10)
	if err != nil {
		return false, fmt.Errorf("triage: digest top items: %w", err)
	}
	actions, err := storage.RecentMessagesInCategories(ctx, o.db, []string{"Urgent", "Action Required"}, since, 10)
	if err != nil {
		return false, fmt.Errorf("triage: digest recommended actions: %w", err)
	}

	_, wrote, err := o.emitter.Write(ctx, o.cfg.DelegatedUser, trigger.TypeWeeklyDigestReady, map[string]any{
		"week":                fmt.Sprintf("%d-W%02d", year, week),
		"category_counts":     stats,
		"top_items":           digestItemsPayload(topItems),
		"newsletter_count":    stats["Newsletters"],
		"recommended_actions": digestItemsPayload(actions),
	}, dedupeKey, nil)
	if err != nil {
		return false, err
	}
	return wrote, nil
}

func digestItemsPayload(items []storage.DigestItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{
			"message_id": it.MessageID, "subject": it.Subject, "sender": it.Sender, "category": it.Category,
		})
	}
	return out
}

func parseLocalTimeOfDay(ref time.Time, hhmm string) (time.Time, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("triage: invalid digest time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location()), nil
}

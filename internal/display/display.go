// Package display provides terminal formatting for the inboxd CLI.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	Muted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Bold    = lipgloss.NewStyle().Bold(true)
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))

	UrgencyImmediate = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	UrgencyToday     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	UrgencyThisWeek  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2563eb"))
	UrgencySomeday   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

// UrgencyLabel returns a colored, fixed-width urgency label.
func UrgencyLabel(urgency string) string {
	label := fmt.Sprintf("%-9s", strings.ToUpper(urgency))
	switch urgency {
	case "immediate":
		return UrgencyImmediate.Render(label)
	case "today":
		return UrgencyToday.Render(label)
	case "this_week":
		return UrgencyThisWeek.Render(label)
	default:
		return UrgencySomeday.Render(label)
	}
}

// TimeAgo formats a time.Time as a short relative age.
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// StatRow formats one "label: value" line in a status report.
func StatRow(label string, value any) string {
	return fmt.Sprintf("%s %v", Muted.Render(label+":"), value)
}

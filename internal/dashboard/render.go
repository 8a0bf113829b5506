package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/gateway"
)

const (
	// FooterMarker identifies board views published by this system. It is
	// stable across process lifetimes so recovery can find and retract views
	// left behind by a previous run.
	FooterMarker = "Workbell Alarm Board"

	// boardTitle heads every published board.
	boardTitle = "🔔 Upcoming Alarms"

	// maxEntries is the platform's per-view row limit.
	maxEntries = 25

	// workWindow is how long before its deadline an alarm's work window
	// opens; the board shows the window's start next to the deadline.
	workWindow = 55 * time.Minute

	// overflowLine closes the board when more alarms exist than fit.
	overflowLine = "…\nToo many alarms to display (max 25). Remove some alarms to see the rest."
)

// Render builds the aggregate board for one destination: earliest deadline
// first, at most maxEntries rows plus an overflow note, clock times shown in
// the tenant's local frame.
func Render(alarms []*domain.Alarm, offsetHours int, audienceRoleID string, now time.Time) *gateway.RenderedView {
	sorted := make([]*domain.Alarm, len(alarms))
	copy(sorted, alarms)

	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Deadline.Equal(sorted[j].Deadline) {
			return sorted[i].Deadline.Before(sorted[j].Deadline)
		}

		if sorted[i].OwnerID != sorted[j].OwnerID {
			return sorted[i].OwnerID < sorted[j].OwnerID
		}

		return sorted[i].Label < sorted[j].Label
	})

	lines := make([]string, 0, len(sorted))

	for _, a := range sorted {
		if len(lines) >= maxEntries {
			lines = append(lines, overflowLine)

			break
		}

		lines = append(lines, renderEntry(a, offsetHours, now))
	}

	return &gateway.RenderedView{
		Title:          boardTitle,
		AudienceRoleID: audienceRoleID,
		Lines:          lines,
		Footer:         FooterMarker,
	}
}

// renderEntry formats one board row: the alarm's name, its note when present,
// and a work-window start, deadline and remaining-time column.
func renderEntry(a *domain.Alarm, offsetHours int, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%q\n", a.Name)

	if a.Note != "" {
		fmt.Fprintf(&b, "Note - %q\n", a.Note)
	}

	fmt.Fprintf(&b, "%s          %s        %s",
		domain.LocalClock(a.Deadline.Add(-workWindow), offsetHours),
		domain.LocalClock(a.Deadline, offsetHours),
		remainingText(a.Deadline.Sub(now)))

	return b.String()
}

// remainingText humanizes the time left until a deadline.
func remainingText(remaining time.Duration) string {
	seconds := int(remaining.Seconds())

	switch {
	case seconds <= 0:
		return "finished"
	case seconds >= 3600:
		return fmt.Sprintf("in %dh %dm", seconds/3600, (seconds%3600)/60)
	case seconds >= 60:
		return fmt.Sprintf("in %d minutes", seconds/60)
	default:
		return "less than a minute"
	}
}

// WarningText is the notification sent while an alarm approaches.
func WarningText(a *domain.Alarm, remaining time.Duration) string {
	if a.Note != "" {
		return fmt.Sprintf("⏳ %s until **%s** (%s) at %s!", leadText(remaining), a.Name, a.Note, a.Label)
	}

	return fmt.Sprintf("⏳ %s until **%s** at %s!", leadText(remaining), a.Name, a.Label)
}

// AlarmText is the final notification sent at the deadline.
func AlarmText(a *domain.Alarm) string {
	if a.Note != "" {
		return fmt.Sprintf("🚨 ALARM for **%s** (%s) at %s!", a.Name, a.Note, a.Label)
	}

	return fmt.Sprintf("🚨 ALARM for **%s** at %s!", a.Name, a.Label)
}

// leadText renders a lead offset the way users configured it: whole minutes
// when possible, seconds otherwise.
func leadText(remaining time.Duration) string {
	if remaining >= time.Minute && remaining%time.Minute == 0 {
		return fmt.Sprintf("%d minute(s)", int(remaining.Minutes()))
	}

	return fmt.Sprintf("%d second(s)", int(remaining.Seconds()))
}

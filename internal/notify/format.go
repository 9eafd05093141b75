package notify

import (
	"html"
	"strings"
	"time"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/watch"
)

// RenderEvent produces the Telegram HTML text for one event. Kickoff times
// are shown in the subscriber's timezone.
func RenderEvent(ev watch.Event, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	switch ev.Kind {
	case watch.KindRescheduled:
		b.WriteString("🕑 NEW MATCH TIME\n\n")
	default:
		b.WriteString("🎾 MATCH SCHEDULED\n\n")
	}

	m := ev.Match
	tournament := m.Tournament
	if tournament == "" {
		tournament = "Unknown tournament"
	}
	b.WriteString("🏆 <b>" + html.EscapeString(tournament) + "</b>\n")
	if m.Round != "" {
		b.WriteString("📋 " + html.EscapeString(m.Round) + "\n")
	}
	b.WriteString("👥 " + html.EscapeString(m.Home) + " vs " + html.EscapeString(m.Away) + "\n")

	if m.Scheduled != nil {
		b.WriteString("⏰ " + formatKickoff(*m.Scheduled, loc) + "\n")
	}
	if ev.Kind == watch.KindRescheduled && ev.Previous != nil {
		b.WriteString("↩️ was: " + formatKickoff(*ev.Previous, loc) + "\n")
	}
	if m.Court != "" {
		b.WriteString("🏟 Court: " + html.EscapeString(m.Court) + "\n")
	}
	return b.String()
}

func formatKickoff(at time.Time, loc *time.Location) string {
	local := at.In(loc)
	zone, _ := local.Zone()
	return local.Format("02/01/2006 15:04") + " " + zone
}

package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/store"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

func (r *Router) handleStart(ctx context.Context, chatID int64) error {
	players, err := r.subs.Players(ctx, chatID)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("🎾 <b>Tennis match watcher</b>\n\n")
	b.WriteString("I watch your players' upcoming matches and ping you when a new one is scheduled or an existing one moves.\n\n")
	b.WriteString("Currently tracking:\n")
	b.WriteString(renderRoster(players))
	b.WriteString("\nCommands:\n")
	b.WriteString("/players - list tracked players\n")
	b.WriteString("/add &lt;name&gt; - track a player\n")
	b.WriteString("/remove &lt;name&gt; - stop tracking\n")
	b.WriteString("/check - scan right now\n")
	b.WriteString("/status - watcher status\n")
	r.reply(ctx, chatID, b.String())
	return nil
}

func (r *Router) handlePlayers(ctx context.Context, chatID int64) error {
	players, err := r.subs.Players(ctx, chatID)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		r.reply(ctx, chatID, "No players tracked. Add one with /add &lt;name&gt;.")
		return nil
	}
	r.reply(ctx, chatID, "Tracked players:\n"+renderRoster(players))
	return nil
}

func (r *Router) handleAdd(ctx context.Context, chatID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		r.reply(ctx, chatID, "Usage: /add &lt;player name&gt;, e.g. /add Jannik Sinner")
		return nil
	}
	if err := r.subs.AddPlayer(ctx, chatID, name); err != nil {
		r.reply(ctx, chatID, "Could not save that player, try again later.")
		return err
	}
	r.reply(ctx, chatID, "✅ Now tracking <b>"+html.EscapeString(name)+"</b>. Run /check to scan right away.")
	return nil
}

func (r *Router) handleRemove(ctx context.Context, chatID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		r.reply(ctx, chatID, "Usage: /remove &lt;player name&gt;")
		return nil
	}
	removed, err := r.subs.RemovePlayer(ctx, chatID, name)
	if err != nil {
		r.reply(ctx, chatID, "Could not update your list, try again later.")
		return err
	}
	if !removed {
		r.reply(ctx, chatID, "<b>"+html.EscapeString(name)+"</b> is not on your list. See /players.")
		return nil
	}
	r.reply(ctx, chatID, "🗑 Stopped tracking <b>"+html.EscapeString(name)+"</b>.")
	return nil
}

func (r *Router) handleCheck(ctx context.Context, chatID int64) error {
	r.reply(ctx, chatID, "🔍 Checking for match updates...")

	sctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	n, err := r.scanner.ScanOne(sctx, chatID)
	if err != nil {
		r.reply(ctx, chatID, "Check failed, try again later.")
		return err
	}
	if n == 0 {
		r.reply(ctx, chatID, "No changes since the last check.")
	}
	r.log.Debug("manual check done", logx.Int64("chat_id", chatID), logx.Int("notifications", n))
	return nil
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) error {
	players, err := r.subs.Players(ctx, chatID)
	if err != nil {
		return err
	}

	interval := time.Hour
	if cfg := r.cfgm.Get(); cfg != nil {
		if d, err := cfg.Scan.IntervalDuration(); err == nil {
			interval = d
		}
	}

	last := "never"
	if at := r.scanner.LastScan(); !at.IsZero() {
		last = humanSince(time.Since(at)) + " ago"
	}

	tz, _ := r.subs.Timezone(ctx, chatID)
	if tz == "" {
		tz = store.DefaultTimezone
	}

	sent := 0
	for _, it := range r.notifier.Snapshot() {
		if it.ChatID == chatID {
			sent++
		}
	}

	var b strings.Builder
	b.WriteString("📊 <b>Status</b>\n\n")
	fmt.Fprintf(&b, "Players tracked: %d\n", len(players))
	fmt.Fprintf(&b, "Scan interval: %s\n", interval)
	fmt.Fprintf(&b, "Last full scan: %s\n", last)
	fmt.Fprintf(&b, "Recent notifications: %d\n", sent)
	fmt.Fprintf(&b, "Timezone: %s\n", html.EscapeString(tz))
	r.reply(ctx, chatID, b.String())
	return nil
}

func renderRoster(players []string) string {
	var b strings.Builder
	for _, p := range players {
		b.WriteString("• " + html.EscapeString(p) + "\n")
	}
	return b.String()
}

func humanSince(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

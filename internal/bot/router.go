package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/config"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/notify"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/store"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/transport"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/watch"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// checkTimeout bounds one /check triggered scan. Generous: it covers several
// provider calls for a long roster.
const checkTimeout = 2 * time.Minute

// Router dispatches inbound chat commands to handlers. Handlers run on a
// small worker pool so one slow command (e.g. /check) doesn't stall the rest.
type Router struct {
	adapter  transport.Adapter
	subs     store.SubscriberStore
	scanner  *watch.Scanner
	notifier *notify.Service
	cfgm     *config.Manager
	log      logx.Logger

	jobs chan func()
}

func NewRouter(adapter transport.Adapter, subs store.SubscriberStore, scanner *watch.Scanner, notifier *notify.Service, cfgm *config.Manager, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:  adapter,
		subs:     subs,
		scanner:  scanner,
		notifier: notifier,
		cfgm:     cfgm,
		log:      log,
		jobs:     make(chan func(), 64),
	}
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) {
	const workers = 4
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command handler",
									logx.Int("worker", idx), logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}()
	}

	r.log.Info("command dispatcher started", logx.Int("workers", workers))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("command dispatcher stopped")
			return
		case up, ok := <-updates:
			if !ok {
				r.log.Info("command dispatcher stopped (updates channel closed)")
				return
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	cmd, arg := splitCommand(text)
	chatID := msg.ChatID

	handler := func() {
		if err := r.handle(ctx, chatID, cmd, arg); err != nil {
			r.log.Warn("command failed",
				logx.Int64("chat_id", chatID), logx.String("cmd", cmd), logx.Err(err))
		}
	}

	select {
	case r.jobs <- handler:
	default:
		r.reply(ctx, chatID, "busy, try again")
	}
}

func (r *Router) handle(ctx context.Context, chatID int64, cmd, arg string) error {
	// Every interaction registers the subscriber (idempotent).
	if err := r.subs.Ensure(ctx, chatID); err != nil {
		r.log.Warn("subscriber ensure failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}

	switch cmd {
	case "start":
		return r.handleStart(ctx, chatID)
	case "players":
		return r.handlePlayers(ctx, chatID)
	case "add":
		return r.handleAdd(ctx, chatID, arg)
	case "remove":
		return r.handleRemove(ctx, chatID, arg)
	case "check":
		return r.handleCheck(ctx, chatID)
	case "status":
		return r.handleStatus(ctx, chatID)
	default:
		r.reply(ctx, chatID, "Unknown command. Use /start to see what I can do.")
		return nil
	}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	_, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// splitCommand splits "/add Jannik Sinner" into ("add", "Jannik Sinner"),
// stripping an optional @botname suffix from the command word.
func splitCommand(text string) (cmd, arg string) {
	text = strings.TrimPrefix(text, "/")
	cmd = text
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		cmd = text[:i]
		arg = strings.TrimSpace(text[i+1:])
	}
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), arg
}

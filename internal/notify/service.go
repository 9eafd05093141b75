package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/store"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/transport"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/watch"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// Service renders watch events and pushes them to the subscriber's chat.
// Delivery is best-effort: the boolean result feeds the detector's
// at-most-once accounting, nothing is retried here.
type Service struct {
	adapter transport.Adapter
	subs    store.SubscriberStore
	log     logx.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	history []HistoryItem
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

var _ watch.Notifier = (*Service)(nil)

func New(adapter transport.Adapter, subs store.SubscriberStore, log logx.Logger, ratePerSec int) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if ratePerSec <= 0 {
		ratePerSec = 3
	}
	return &Service{
		adapter: adapter,
		subs:    subs,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

func (s *Service) Deliver(ctx context.Context, ev watch.Event) bool {
	text := RenderEvent(ev, s.location(ctx, ev.Subscriber))

	if err := s.limiter.Wait(ctx); err != nil {
		return false
	}
	_, err := s.adapter.SendText(ctx, transport.ChatTarget{ChatID: ev.Subscriber}, text, &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if err != nil {
		s.log.Warn("event delivery failed",
			logx.Int64("chat_id", ev.Subscriber), logx.String("match_id", ev.Match.ID), logx.Err(err))
		return false
	}
	s.appendHistory(HistoryItem{At: time.Now(), ChatID: ev.Subscriber, Text: text})
	return true
}

// Snapshot returns recent deliveries, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
}

// location resolves the subscriber's display timezone, falling back to UTC.
// The timezone affects rendering only, never change detection.
func (s *Service) location(ctx context.Context, chatID int64) *time.Location {
	tz, err := s.subs.Timezone(ctx, chatID)
	if err != nil || tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Debug("invalid subscriber timezone; using UTC", logx.Int64("chat_id", chatID), logx.String("tz", tz))
		return time.UTC
	}
	return loc
}

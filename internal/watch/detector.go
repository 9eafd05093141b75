package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/store"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// Detector reconciles freshly fetched matches against the known-match ledger
// and emits one Event per detected change.
//
// Ordering per change: Deliver first, SetKnown second. The ledger write is
// the durable acknowledgment that the notification was produced, not that it
// was delivered; a delivery failure is logged and never retried here
// (at-most-once delivery, by explicit trade-off).
type Detector struct {
	subs     store.SubscriberStore
	known    store.KnownStore
	lookup   Lookup
	notifier Notifier
	log      logx.Logger

	notifyTimeout time.Duration
}

func NewDetector(subs store.SubscriberStore, known store.KnownStore, lookup Lookup, notifier Notifier, log logx.Logger, notifyTimeout time.Duration) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	return &Detector{
		subs:          subs,
		known:         known,
		lookup:        lookup,
		notifier:      notifier,
		log:           log,
		notifyTimeout: notifyTimeout,
	}
}

// CheckSubscriber runs one scan cycle for one subscriber and reports how many
// events were emitted. An error means the stores were unusable for this
// subscriber; per-player upstream failures are logged and skipped instead.
//
// Callers must not run two CheckSubscriber calls for the same subscriber
// concurrently (the Scanner serializes them).
func (d *Detector) CheckSubscriber(ctx context.Context, chatID int64) (int, error) {
	players, err := d.subs.Players(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("load roster: %w", err)
	}
	known, err := d.known.Known(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("load known matches: %w", err)
	}

	emitted := 0
	for _, name := range players {
		if ctx.Err() != nil {
			return emitted, ctx.Err()
		}
		emitted += d.checkPlayer(ctx, chatID, name, known)
	}
	return emitted, nil
}

// checkPlayer processes one tracked name. Failures here never propagate: a
// transient upstream miss for one player must not block the others.
func (d *Detector) checkPlayer(ctx context.Context, chatID int64, name string, known map[string]*time.Time) int {
	log := d.log.With(logx.Int64("chat_id", chatID), logx.String("player", name))

	playerID, err := d.lookup.ResolvePlayer(ctx, name)
	if err != nil {
		rerr := &ResolutionError{Name: name, Err: err}
		if errors.Is(err, ErrPlayerNotFound) {
			log.Debug("player not found upstream")
		} else {
			log.Warn("player resolution failed", logx.Err(rerr))
		}
		return 0
	}

	matches, err := d.lookup.UpcomingMatches(ctx, playerID)
	if err != nil {
		log.Warn("upcoming matches fetch failed", logx.Err(&FetchError{PlayerID: playerID, Err: err}))
		return 0
	}

	emitted := 0
	for _, m := range dedupeByID(matches) {
		cur := m.Scheduled
		prev, seen := known[m.ID]
		switch {
		case !seen:
			if cur == nil {
				// Pending schedule: not actionable until a concrete time
				// appears. No notification, no ledger write.
				log.Debug("match has no kickoff time yet", logx.String("match_id", m.ID))
				continue
			}
			d.emit(ctx, Event{Kind: KindNewMatch, Subscriber: chatID, Match: m}, log)
			d.persist(ctx, chatID, m.ID, cur, log)
			known[m.ID] = cur
			emitted++
		case cur != nil && !sameInstant(prev, cur):
			d.emit(ctx, Event{Kind: KindRescheduled, Subscriber: chatID, Match: m, Previous: prev}, log)
			d.persist(ctx, chatID, m.ID, cur, log)
			known[m.ID] = cur
			emitted++
		}
	}
	return emitted
}

func (d *Detector) emit(ctx context.Context, ev Event, log logx.Logger) {
	nctx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
	defer cancel()
	if !d.notifier.Deliver(nctx, ev) {
		// Not retried; the ledger write below still stands.
		log.Warn("notification not delivered", logx.String("match_id", ev.Match.ID), logx.String("kind", string(ev.Kind)))
		return
	}
	log.Info("notification sent", logx.String("match_id", ev.Match.ID), logx.String("kind", string(ev.Kind)))
}

func (d *Detector) persist(ctx context.Context, chatID int64, matchID string, at *time.Time, log logx.Logger) {
	if err := d.known.SetKnown(ctx, chatID, matchID, at); err != nil {
		// Non-fatal: the store keeps the in-memory record, so this process
		// won't re-notify. A crash before the next successful write may.
		log.Error("known-match persist failed", logx.Err(err), logx.String("match_id", matchID))
	}
}

// dedupeByID drops earlier entries when the provider repeats a match id
// within one fetch; the last occurrence wins.
func dedupeByID(in []Match) []Match {
	if len(in) < 2 {
		return in
	}
	last := make(map[string]int, len(in))
	for i, m := range in {
		last[m.ID] = i
	}
	if len(last) == len(in) {
		return in
	}
	out := make([]Match, 0, len(last))
	for i, m := range in {
		if last[m.ID] == i {
			out = append(out, m)
		}
	}
	return out
}

// sameInstant compares by instant, not formatting, so a representation change
// upstream never reads as a reschedule.
func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

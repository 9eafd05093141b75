package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// Defaults applied when a subscriber first interacts with the bot.
var DefaultPlayers = []string{"Jannik Sinner", "Jasmine Paolini"}

const DefaultTimezone = "Europe/Rome"

// PersistenceError reports a failed durable write. The in-memory view of the
// store is still updated, so the process will not re-notify within its own
// lifetime; a crash before the next successful write may cause a duplicate
// notification on restart.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON snapshot files, dependency-free
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SubscriberStore owns the roster: who is subscribed and which players each
// subscriber tracks.
type SubscriberStore interface {
	// Ensure registers the subscriber if unseen, seeding the default roster
	// and timezone. Idempotent.
	Ensure(ctx context.Context, chatID int64) error

	Players(ctx context.Context, chatID int64) ([]string, error)

	// AddPlayer adds a tracked name; duplicates are ignored.
	AddPlayer(ctx context.Context, chatID int64, name string) error

	// RemovePlayer reports whether the name was present.
	RemovePlayer(ctx context.Context, chatID int64, name string) (bool, error)

	Timezone(ctx context.Context, chatID int64) (string, error)

	// Subscribers lists every registered chat id.
	Subscribers(ctx context.Context) ([]int64, error)
}

// KnownStore is the durable de-duplication ledger: for each subscriber, the
// last kickoff time a notification was produced for, per match id.
//
// A record exists iff a notification for that exact (match, time) pair was
// already classified; writers must notify before calling SetKnown.
type KnownStore interface {
	// Known returns the subscriber's ledger. Unknown subscribers get an empty
	// map, never an error.
	Known(ctx context.Context, chatID int64) (map[string]*time.Time, error)

	// SetKnown upserts one record. On a *PersistenceError the in-memory view
	// is updated regardless (see PersistenceError).
	SetKnown(ctx context.Context, chatID int64, matchID string, at *time.Time) error
}

type Store interface {
	SubscriberStore
	KnownStore
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

func equalFoldName(a, b string) bool {
	return strings.EqualFold(normalizeName(a), normalizeName(b))
}

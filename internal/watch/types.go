package watch

import (
	"context"
	"time"
)

// Match is one upcoming fixture as reported by the provider. It is produced
// fresh on every lookup and never persisted as-is; only (ID, Scheduled) is
// reconciled against the known-match ledger.
type Match struct {
	ID         string
	Tournament string
	Round      string
	Home       string
	Away       string
	// Scheduled is the kickoff instant in UTC. Nil when the provider gave no
	// time (or an unparsable one); such matches are re-evaluated every scan
	// until a concrete time appears.
	Scheduled *time.Time
	Court     string
}

type EventKind string

const (
	KindNewMatch    EventKind = "new_match"
	KindRescheduled EventKind = "rescheduled"
)

// Event is a single detected change for one subscriber. Immutable once
// produced.
type Event struct {
	Kind       EventKind
	Subscriber int64
	Match      Match
	// Previous is the last-notified kickoff time. Set only for KindRescheduled.
	Previous *time.Time
}

// Lookup resolves tracked names and fetches upcoming matches. Ordering of the
// returned slice (most imminent first) and ambiguity resolution for names
// matching several players are the implementation's responsibility.
type Lookup interface {
	// ResolvePlayer returns the provider-side id for a display name.
	// Returns ErrPlayerNotFound when the name matches nobody.
	ResolvePlayer(ctx context.Context, name string) (string, error)

	// UpcomingMatches returns up to a provider-bounded number of scheduled
	// matches for the player, most imminent first.
	UpcomingMatches(ctx context.Context, playerID string) ([]Match, error)
}

// Notifier delivers one event to the subscriber's chat. The return value
// reports delivery only; a false does not undo the classification (delivery
// is at-most-once by design, see Detector).
type Notifier interface {
	Deliver(ctx context.Context, ev Event) bool
}

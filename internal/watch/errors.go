package watch

import (
	"errors"
	"fmt"
)

// ErrPlayerNotFound is returned by Lookup.ResolvePlayer when the name matches
// no player upstream.
var ErrPlayerNotFound = errors.New("player not found")

// ResolutionError wraps a failed name -> player-id resolution. It aborts only
// the one tracked name for the current cycle.
type ResolutionError struct {
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// FetchError wraps a failed upcoming-matches fetch for one resolved player.
type FetchError struct {
	PlayerID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch matches for player %s: %v", e.PlayerID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

package sportdevs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/watch"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// maxUpcoming caps how many fixtures one lookup yields. The provider returns
// them most imminent first and that order is preserved.
const maxUpcoming = 4

var _ watch.Lookup = (*Client)(nil)

// ResolvePlayer resolves a display name to the provider's player id. When the
// name matches several players the provider's ranking decides: the first
// result wins.
func (c *Client) ResolvePlayer(ctx context.Context, name string) (string, error) {
	q := url.Values{"name": {name}}
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/tennis/players/search", q, &raw); err != nil {
		return "", err
	}

	var players []rawPlayer
	if err := json.Unmarshal(unwrapData(raw), &players); err != nil {
		return "", err
	}
	if len(players) == 0 {
		return "", watch.ErrPlayerNotFound
	}
	best := players[0]
	id := string(best.ID)
	if id == "" {
		id = string(best.PlayerID)
	}
	if id == "" {
		return "", watch.ErrPlayerNotFound
	}
	return id, nil
}

// UpcomingMatches fetches the player's scheduled fixtures.
func (c *Client) UpcomingMatches(ctx context.Context, playerID string) ([]watch.Match, error) {
	q := url.Values{"status": {"scheduled"}}
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/tennis/players/"+url.PathEscape(playerID)+"/matches", q, &raw); err != nil {
		return nil, err
	}

	var rows []rawMatch
	if err := json.Unmarshal(unwrapData(raw), &rows); err != nil {
		return nil, err
	}
	if len(rows) > maxUpcoming {
		rows = rows[:maxUpcoming]
	}

	out := make([]watch.Match, 0, len(rows))
	for _, r := range rows {
		m := watch.Match{
			ID:         firstNonEmpty(string(r.ID), string(r.MatchID)),
			Tournament: firstNonEmpty(r.Tournament.name(), r.CompetitionName),
			Round:      firstNonEmpty(string(r.Round), string(r.StageName)),
			Home:       firstNonEmpty(string(r.Home), string(r.Player1)),
			Away:       firstNonEmpty(string(r.Away), string(r.Player2)),
			Court:      firstNonEmpty(string(r.Court), r.Venue.name()),
		}
		if m.ID == "" {
			continue
		}
		if rawTime := firstNonEmpty(r.StartTime, r.Scheduled, r.StartAt); rawTime != "" {
			at := parseKickoff(rawTime)
			if at == nil {
				// Unparsable time: the match stays "pending schedule" and is
				// re-evaluated next scan.
				c.log.Warn("unparsable kickoff time", logx.String("match_id", m.ID), logx.String("raw", rawTime))
			}
			m.Scheduled = at
		}
		out = append(out, m)
	}
	return out, nil
}

// unwrapData tolerates both a bare JSON array and an {"data": [...]} envelope.
func unwrapData(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil || len(bytes.TrimSpace(env.Data)) == 0 {
		return trimmed
	}
	return env.Data
}

var kickoffFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// parseKickoff normalizes a provider timestamp to a UTC instant. Formats
// without an offset are taken as UTC. Returns nil when nothing matches.
func parseKickoff(raw string) *time.Time {
	for _, layout := range kickoffFormats {
		if at, err := time.Parse(layout, raw); err == nil {
			u := at.UTC()
			return &u
		}
	}
	return nil
}

type rawPlayer struct {
	ID       flexID `json:"id"`
	PlayerID flexID `json:"playerId"`
	Name     string `json:"name"`
}

type rawMatch struct {
	ID              flexID   `json:"id"`
	MatchID         flexID   `json:"matchId"`
	Tournament      *named   `json:"tournament"`
	CompetitionName string   `json:"competitionName"`
	Round           flexText `json:"round"`
	StageName       flexText `json:"stageName"`
	Home            flexText `json:"home"`
	Player1         flexText `json:"player1"`
	Away            flexText `json:"away"`
	Player2         flexText `json:"player2"`
	StartTime       string   `json:"startTime"`
	Scheduled       string   `json:"scheduled"`
	StartAt         string   `json:"startAt"`
	Court           flexText `json:"court"`
	Venue           *named   `json:"venue"`
}

type named struct {
	Name string `json:"name"`
}

func (n *named) name() string {
	if n == nil {
		return ""
	}
	return n.Name
}

// flexID accepts a JSON string or number and keeps it as a string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// flexText accepts a JSON string, number, or {"name": ...} object. The API is
// not consistent about these across endpoints.
type flexText string

func (f *flexText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexText(s)
	case '{':
		var n named
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = flexText(n.Name)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = flexText(n.String())
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

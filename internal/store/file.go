package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files:
//   - <prefix>.subscribers.json (roster + timezone per chat)
//   - <prefix>.known.json       (match id -> last-notified kickoff per chat)
//
// Every mutation updates memory first, then snapshots the whole file with a
// tmp+rename. A failed snapshot surfaces as *PersistenceError while the
// in-memory state keeps the write.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	subsPath  string
	knownPath string

	subs  map[int64]*subscriberRec
	known map[int64]map[string]*time.Time
}

type subscriberRec struct {
	Players  []string `json:"players"`
	Timezone string   `json:"tz"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		subsPath:  prefix + ".subscribers.json",
		knownPath: prefix + ".known.json",
		subs:      map[int64]*subscriberRec{},
		known:     map[int64]map[string]*time.Time{},
	}
	if err := s.loadSubscribers(); err != nil {
		return nil, err
	}
	if err := s.loadKnown(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error { return nil }

// ---- SubscriberStore ----

func (s *fileStore) Ensure(ctx context.Context, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[chatID]; ok {
		return nil
	}
	s.subs[chatID] = &subscriberRec{
		Players:  append([]string(nil), DefaultPlayers...),
		Timezone: DefaultTimezone,
	}
	if s.known[chatID] == nil {
		s.known[chatID] = map[string]*time.Time{}
	}
	return s.flushSubscribersLocked("ensure")
}

func (s *fileStore) Players(ctx context.Context, chatID int64) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.subs[chatID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), rec.Players...), nil
}

func (s *fileStore) AddPlayer(ctx context.Context, chatID int64, name string) error {
	_ = ctx
	name = normalizeName(name)
	if name == "" {
		return errors.New("empty player name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.subs[chatID]
	if !ok {
		rec = &subscriberRec{Timezone: DefaultTimezone}
		s.subs[chatID] = rec
	}
	for _, p := range rec.Players {
		if equalFoldName(p, name) {
			return nil
		}
	}
	rec.Players = append(rec.Players, name)
	return s.flushSubscribersLocked("add player")
}

func (s *fileStore) RemovePlayer(ctx context.Context, chatID int64, name string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.subs[chatID]
	if !ok {
		return false, nil
	}
	for i, p := range rec.Players {
		if equalFoldName(p, name) {
			rec.Players = append(rec.Players[:i], rec.Players[i+1:]...)
			return true, s.flushSubscribersLocked("remove player")
		}
	}
	return false, nil
}

func (s *fileStore) Timezone(ctx context.Context, chatID int64) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.subs[chatID]; ok && strings.TrimSpace(rec.Timezone) != "" {
		return rec.Timezone, nil
	}
	return DefaultTimezone, nil
}

func (s *fileStore) Subscribers(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	return out, nil
}

// ---- KnownStore ----

func (s *fileStore) Known(ctx context.Context, chatID int64) (map[string]*time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]*time.Time{}
	for id, at := range s.known[chatID] {
		out[id] = at
	}
	return out, nil
}

func (s *fileStore) SetKnown(ctx context.Context, chatID int64, matchID string, at *time.Time) error {
	_ = ctx
	if matchID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[chatID] == nil {
		s.known[chatID] = map[string]*time.Time{}
	}
	// Memory first: a failed flush must not cause a re-notification within
	// this process lifetime.
	s.known[chatID][matchID] = at
	return s.flushKnownLocked("set known match")
}

// ---- persistence ----

func (s *fileStore) flushSubscribersLocked(op string) error {
	m := make(map[string]*subscriberRec, len(s.subs))
	for id, rec := range s.subs {
		m[strconv.FormatInt(id, 10)] = rec
	}
	if err := writeJSONAtomic(s.subsPath, m); err != nil {
		s.log.Error("subscriber snapshot failed", logx.Err(err), logx.String("path", s.subsPath))
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (s *fileStore) flushKnownLocked(op string) error {
	m := make(map[string]map[string]*string, len(s.known))
	for id, matches := range s.known {
		inner := make(map[string]*string, len(matches))
		for matchID, at := range matches {
			if at == nil {
				inner[matchID] = nil
				continue
			}
			v := at.UTC().Format(time.RFC3339Nano)
			inner[matchID] = &v
		}
		m[strconv.FormatInt(id, 10)] = inner
	}
	if err := writeJSONAtomic(s.knownPath, m); err != nil {
		s.log.Error("known-match snapshot failed", logx.Err(err), logx.String("path", s.knownPath))
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (s *fileStore) loadSubscribers() error {
	var m map[string]*subscriberRec
	ok, err := readJSON(s.subsPath, &m)
	if err != nil || !ok {
		return err
	}
	for key, rec := range m {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || rec == nil {
			continue
		}
		s.subs[id] = rec
	}
	return nil
}

func (s *fileStore) loadKnown() error {
	var m map[string]map[string]*string
	ok, err := readJSON(s.knownPath, &m)
	if err != nil || !ok {
		return err
	}
	for key, matches := range m {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		inner := map[string]*time.Time{}
		for matchID, raw := range matches {
			if raw == nil {
				inner[matchID] = nil
				continue
			}
			at, err := time.Parse(time.RFC3339Nano, *raw)
			if err != nil {
				// Corrupt entry: drop it rather than fail the whole load.
				s.log.Warn("dropping unparsable known-match entry",
					logx.Int64("chat_id", id), logx.String("match_id", matchID))
				continue
			}
			at = at.UTC()
			inner[matchID] = &at
		}
		s.known[id] = inner
	}
	return nil
}

func readJSON(path string, out any) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

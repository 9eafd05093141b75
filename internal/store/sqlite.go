package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// pending holds known-match writes that failed to persist. They shadow the
	// database in Known() so the process does not re-notify; lost on restart.
	pmu     sync.Mutex
	pending map[int64]map[string]*time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pending: map[int64]map[string]*time.Time{}}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- SubscriberStore ----

func (s *sqliteStore) Ensure(ctx context.Context, chatID int64) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, timezone) VALUES(?, ?) ON CONFLICT(chat_id) DO NOTHING`,
		chatID, DefaultTimezone,
	)
	if err != nil {
		return &PersistenceError{Op: "ensure", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil
	}
	for _, p := range DefaultPlayers {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO players(chat_id, name) VALUES(?, ?) ON CONFLICT(chat_id, name) DO NOTHING`,
			chatID, p,
		); err != nil {
			return &PersistenceError{Op: "ensure default roster", Err: err}
		}
	}
	return nil
}

func (s *sqliteStore) Players(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM players WHERE chat_id = ? ORDER BY rowid`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddPlayer(ctx context.Context, chatID int64, name string) error {
	name = normalizeName(name)
	if name == "" {
		return errors.New("empty player name")
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM players WHERE chat_id = ? AND name = ? COLLATE NOCASE`,
		chatID, name,
	).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO players(chat_id, name) VALUES(?, ?) ON CONFLICT(chat_id, name) DO NOTHING`,
		chatID, name,
	); err != nil {
		return &PersistenceError{Op: "add player", Err: err}
	}
	return nil
}

func (s *sqliteStore) RemovePlayer(ctx context.Context, chatID int64, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM players WHERE chat_id = ? AND name = ? COLLATE NOCASE`,
		chatID, normalizeName(name),
	)
	if err != nil {
		return false, &PersistenceError{Op: "remove player", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Timezone(ctx context.Context, chatID int64) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone FROM subscribers WHERE chat_id = ?`, chatID).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) || strings.TrimSpace(tz) == "" {
		return DefaultTimezone, nil
	}
	if err != nil {
		return DefaultTimezone, err
	}
	return tz, nil
}

func (s *sqliteStore) Subscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- KnownStore ----

func (s *sqliteStore) Known(ctx context.Context, chatID int64) (map[string]*time.Time, error) {
	out := map[string]*time.Time{}
	rows, err := s.db.QueryContext(ctx,
		`SELECT match_id, scheduled_ms FROM known_matches WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			matchID string
			ms      sql.NullInt64
		)
		if err := rows.Scan(&matchID, &ms); err != nil {
			return nil, err
		}
		if ms.Valid {
			at := time.UnixMilli(ms.Int64).UTC()
			out[matchID] = &at
		} else {
			out[matchID] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Failed writes shadow persisted rows until the process restarts.
	s.pmu.Lock()
	for matchID, at := range s.pending[chatID] {
		out[matchID] = at
	}
	s.pmu.Unlock()
	return out, nil
}

func (s *sqliteStore) SetKnown(ctx context.Context, chatID int64, matchID string, at *time.Time) error {
	if matchID == "" {
		return nil
	}
	var ms any
	if at != nil {
		ms = at.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO known_matches(chat_id, match_id, scheduled_ms) VALUES(?,?,?)
		 ON CONFLICT(chat_id, match_id) DO UPDATE SET scheduled_ms=excluded.scheduled_ms`,
		chatID, matchID, ms,
	)
	if err == nil {
		s.pmu.Lock()
		if m := s.pending[chatID]; m != nil {
			delete(m, matchID)
		}
		s.pmu.Unlock()
		return nil
	}

	s.pmu.Lock()
	if s.pending[chatID] == nil {
		s.pending[chatID] = map[string]*time.Time{}
	}
	s.pending[chatID][matchID] = at
	s.pmu.Unlock()
	s.log.Error("known-match write failed; keeping in-memory record",
		logx.Err(err), logx.Int64("chat_id", chatID), logx.String("match_id", matchID))
	return &PersistenceError{Op: "set known match", Err: err}
}

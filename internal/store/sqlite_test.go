package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

func openTestSQLite(t *testing.T, dir string) Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "watch.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestSQLite(t, dir)

	if err := s.Ensure(ctx, 42); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Ensure(ctx, 42); err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	players, err := s.Players(ctx, 42)
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	if len(players) != len(DefaultPlayers) {
		t.Fatalf("got %d default players, want %d", len(players), len(DefaultPlayers))
	}

	if err := s.AddPlayer(ctx, 42, "Carlos Alcaraz"); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if err := s.AddPlayer(ctx, 42, "CARLOS alcaraz"); err != nil {
		t.Fatalf("AddPlayer duplicate: %v", err)
	}
	players, _ = s.Players(ctx, 42)
	if len(players) != len(DefaultPlayers)+1 {
		t.Fatalf("case-insensitive duplicate was added: %v", players)
	}

	at := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	if err := s.SetKnown(ctx, 42, "m1", &at); err != nil {
		t.Fatalf("SetKnown: %v", err)
	}
	moved := at.Add(90 * time.Minute)
	if err := s.SetKnown(ctx, 42, "m1", &moved); err != nil {
		t.Fatalf("SetKnown upsert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the ledger and roster must survive.
	s = openTestSQLite(t, dir)
	defer s.Close()

	known, err := s.Known(ctx, 42)
	if err != nil {
		t.Fatalf("Known: %v", err)
	}
	got, ok := known["m1"]
	if !ok || got == nil || !got.Equal(moved) {
		t.Fatalf("ledger after reopen = %v, want %v", got, moved)
	}

	removed, err := s.RemovePlayer(ctx, 42, "carlos ALCARAZ")
	if err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if !removed {
		t.Fatalf("RemovePlayer missed a present name")
	}

	ids, err := s.Subscribers(ctx)
	if err != nil {
		t.Fatalf("Subscribers: %v", err)
	}
	if len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("subscribers = %v, want [42]", ids)
	}
}

func TestSQLitePendingOverlayShadowsFailedWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t, t.TempDir())
	defer s.Close()

	st := s.(*sqliteStore)
	if err := st.Ensure(ctx, 42); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	at := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	if err := st.SetKnown(ctx, 42, "m1", &at); err != nil {
		t.Fatalf("SetKnown: %v", err)
	}

	// Force write failures while reads keep working.
	if _, err := st.db.Exec("PRAGMA query_only = ON"); err != nil {
		t.Fatalf("set query_only: %v", err)
	}

	moved := at.Add(90 * time.Minute)
	err := st.SetKnown(ctx, 42, "m2", &moved)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("failed write must surface as *PersistenceError, got %v", err)
	}

	// The failed write still shadows the ledger, so this process stays silent.
	known, kerr := st.Known(ctx, 42)
	if kerr != nil {
		t.Fatalf("Known: %v", kerr)
	}
	if got, ok := known["m2"]; !ok || got == nil || !got.Equal(moved) {
		t.Fatalf("pending write not visible in ledger: %v", known)
	}
	if got := known["m1"]; got == nil || !got.Equal(at) {
		t.Fatalf("persisted row lost: %v", known)
	}

	// Once writes recover, the record lands durably and leaves the overlay.
	if _, err := st.db.Exec("PRAGMA query_only = OFF"); err != nil {
		t.Fatalf("clear query_only: %v", err)
	}
	if err := st.SetKnown(ctx, 42, "m2", &moved); err != nil {
		t.Fatalf("SetKnown after recovery: %v", err)
	}
	st.pmu.Lock()
	pending := len(st.pending[42])
	st.pmu.Unlock()
	if pending != 0 {
		t.Fatalf("overlay not cleared after a successful write: %d entries", pending)
	}
	known, _ = st.Known(ctx, 42)
	if got := known["m2"]; got == nil || !got.Equal(moved) {
		t.Fatalf("recovered write missing: %v", known)
	}
}

func TestSQLiteTimezoneDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLite(t, t.TempDir())
	defer s.Close()

	tz, err := s.Timezone(ctx, 12345)
	if err != nil {
		t.Fatalf("Timezone: %v", err)
	}
	if tz != DefaultTimezone {
		t.Fatalf("timezone for unknown subscriber = %q, want %q", tz, DefaultTimezone)
	}
}

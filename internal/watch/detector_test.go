package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

func ts(t *testing.T, value string) *time.Time {
	t.Helper()
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	at = at.UTC()
	return &at
}

type fakeSubs struct {
	mu      sync.Mutex
	players map[int64][]string
	listErr error
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{players: map[int64][]string{}}
}

func (f *fakeSubs) Ensure(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.players[chatID]; !ok {
		f.players[chatID] = nil
	}
	return nil
}

func (f *fakeSubs) Players(ctx context.Context, chatID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.players[chatID]...), nil
}

func (f *fakeSubs) AddPlayer(ctx context.Context, chatID int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players[chatID] = append(f.players[chatID], name)
	return nil
}

func (f *fakeSubs) RemovePlayer(ctx context.Context, chatID int64, name string) (bool, error) {
	return false, nil
}

func (f *fakeSubs) Timezone(ctx context.Context, chatID int64) (string, error) {
	return "UTC", nil
}

func (f *fakeSubs) Subscribers(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]int64, 0, len(f.players))
	for id := range f.players {
		out = append(out, id)
	}
	return out, nil
}

type fakeKnown struct {
	mu         sync.Mutex
	data       map[int64]map[string]*time.Time
	setErr     error
	loadErr    error
	loadErrFor map[int64]error
	sets       int
}

func newFakeKnown() *fakeKnown {
	return &fakeKnown{
		data:       map[int64]map[string]*time.Time{},
		loadErrFor: map[int64]error{},
	}
}

func (f *fakeKnown) Known(ctx context.Context, chatID int64) (map[string]*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if err := f.loadErrFor[chatID]; err != nil {
		return nil, err
	}
	out := map[string]*time.Time{}
	for k, v := range f.data[chatID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeKnown) SetKnown(ctx context.Context, chatID int64, matchID string, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	// Memory keeps the write even when persistence fails, matching the store
	// contract.
	if f.data[chatID] == nil {
		f.data[chatID] = map[string]*time.Time{}
	}
	f.data[chatID][matchID] = at
	return f.setErr
}

type fakeLookup struct {
	mu         sync.Mutex
	ids        map[string]string
	resolveErr map[string]error
	matches    map[string][]Match
	fetchErr   map[string]error
	onFetch    func(playerID string)
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		ids:        map[string]string{},
		resolveErr: map[string]error{},
		matches:    map[string][]Match{},
		fetchErr:   map[string]error{},
	}
}

func (f *fakeLookup) ResolvePlayer(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.resolveErr[name]; err != nil {
		return "", err
	}
	id, ok := f.ids[name]
	if !ok {
		return "", ErrPlayerNotFound
	}
	return id, nil
}

func (f *fakeLookup) UpcomingMatches(ctx context.Context, playerID string) ([]Match, error) {
	f.mu.Lock()
	onFetch := f.onFetch
	err := f.fetchErr[playerID]
	matches := append([]Match(nil), f.matches[playerID]...)
	f.mu.Unlock()
	if onFetch != nil {
		onFetch(playerID)
	}
	if err != nil {
		return nil, err
	}
	return matches, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (f *fakeNotifier) Deliver(ctx context.Context, ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return !f.fail
}

func (f *fakeNotifier) all() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func testLogger() logx.Logger { return logx.Nop() }

func TestDetectorNewMatchNotifiesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newFakeSubs()
	subs.players[42] = []string{"Jannik Sinner"}
	known := newFakeKnown()
	lookup := newFakeLookup()
	lookup.ids["Jannik Sinner"] = "p1"
	lookup.matches["p1"] = []Match{{ID: "m1", Tournament: "US Open", Home: "Sinner", Away: "Alcaraz", Scheduled: ts(t, "2026-09-01T14:00:00Z")}}
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)

	n, err := det.CheckSubscriber(ctx, 42)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d notifications, want 1", n)
	}
	evs := notifier.all()
	if evs[0].Kind != KindNewMatch || evs[0].Subscriber != 42 || evs[0].Match.ID != "m1" {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if evs[0].Previous != nil {
		t.Fatalf("new-match event must not carry a previous time")
	}

	// Same data again: nothing new.
	n, err = det.CheckSubscriber(ctx, 42)
	if err != nil {
		t.Fatalf("second CheckSubscriber: %v", err)
	}
	if n != 0 {
		t.Fatalf("re-scan produced %d notifications, want 0", n)
	}
	if got := len(notifier.all()); got != 1 {
		t.Fatalf("got %d delivered events after re-scan, want 1", got)
	}
}

func TestDetectorReschedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := ts(t, "2026-09-01T14:00:00Z")
	moved := ts(t, "2026-09-01T15:30:00Z")

	subs := newFakeSubs()
	subs.players[42] = []string{"Jannik Sinner"}
	known := newFakeKnown()
	known.data[42] = map[string]*time.Time{"m1": first}
	lookup := newFakeLookup()
	lookup.ids["Jannik Sinner"] = "p1"
	lookup.matches["p1"] = []Match{{ID: "m1", Scheduled: moved}}
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)

	n, err := det.CheckSubscriber(ctx, 42)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d notifications, want 1", n)
	}
	ev := notifier.all()[0]
	if ev.Kind != KindRescheduled {
		t.Fatalf("got kind %q, want rescheduled", ev.Kind)
	}
	if ev.Previous == nil || !ev.Previous.Equal(*first) {
		t.Fatalf("previous time = %v, want %v", ev.Previous, first)
	}
	if ev.Match.Scheduled == nil || !ev.Match.Scheduled.Equal(*moved) {
		t.Fatalf("scheduled = %v, want %v", ev.Match.Scheduled, moved)
	}
	if got := known.data[42]["m1"]; got == nil || !got.Equal(*moved) {
		t.Fatalf("ledger not advanced: %v", got)
	}
}

func TestDetectorPendingScheduleDeferred(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newFakeSubs()
	subs.players[7] = []string{"Jasmine Paolini"}
	known := newFakeKnown()
	lookup := newFakeLookup()
	lookup.ids["Jasmine Paolini"] = "p2"
	lookup.matches["p2"] = []Match{{ID: "m9", Tournament: "WTA Rome"}} // no time yet
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)

	n, err := det.CheckSubscriber(ctx, 7)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 0 || len(notifier.all()) != 0 {
		t.Fatalf("pending-schedule match must not notify")
	}
	if _, ok := known.data[7]["m9"]; ok {
		t.Fatalf("pending-schedule match must not enter the ledger")
	}

	// Once the time appears, it's a normal new match.
	lookup.matches["p2"][0].Scheduled = ts(t, "2026-05-10T11:00:00Z")
	n, err = det.CheckSubscriber(ctx, 7)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d notifications, want 1", n)
	}
	if notifier.all()[0].Kind != KindNewMatch {
		t.Fatalf("expected new-match event")
	}
}

func TestDetectorKnownMatchLosingTimeIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newFakeSubs()
	subs.players[1] = []string{"A"}
	known := newFakeKnown()
	known.data[1] = map[string]*time.Time{"m1": ts(t, "2026-01-01T10:00:00Z")}
	lookup := newFakeLookup()
	lookup.ids["A"] = "pa"
	lookup.matches["pa"] = []Match{{ID: "m1"}} // time disappeared upstream
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)
	n, err := det.CheckSubscriber(ctx, 1)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 0 || len(notifier.all()) != 0 {
		t.Fatalf("a known match losing its time must not notify")
	}
	if got := known.data[1]["m1"]; got == nil {
		t.Fatalf("ledger entry must keep the last notified time")
	}
}

func TestDetectorDuplicateIDsLastWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	early := ts(t, "2026-03-03T10:00:00Z")
	late := ts(t, "2026-03-03T18:00:00Z")

	subs := newFakeSubs()
	subs.players[5] = []string{"A"}
	known := newFakeKnown()
	lookup := newFakeLookup()
	lookup.ids["A"] = "pa"
	lookup.matches["pa"] = []Match{
		{ID: "dup", Scheduled: early},
		{ID: "other", Scheduled: early},
		{ID: "dup", Scheduled: late},
	}
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)
	n, err := det.CheckSubscriber(ctx, 5)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d notifications, want 2", n)
	}
	if got := known.data[5]["dup"]; got == nil || !got.Equal(*late) {
		t.Fatalf("duplicate id: ledger has %v, want the last occurrence %v", got, late)
	}
	for _, ev := range notifier.all() {
		if ev.Match.ID == "dup" && !ev.Match.Scheduled.Equal(*late) {
			t.Fatalf("notified the earlier duplicate occurrence")
		}
	}
}

func TestDetectorDeliveryFailureStillRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newFakeSubs()
	subs.players[3] = []string{"A"}
	known := newFakeKnown()
	lookup := newFakeLookup()
	lookup.ids["A"] = "pa"
	lookup.matches["pa"] = []Match{{ID: "m1", Scheduled: ts(t, "2026-02-02T12:00:00Z")}}
	notifier := &fakeNotifier{fail: true}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)
	if _, err := det.CheckSubscriber(ctx, 3); err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	// At-most-once: the ledger write stands even though delivery failed, so the
	// next scan stays silent.
	if _, ok := known.data[3]["m1"]; !ok {
		t.Fatalf("ledger write must stand after a delivery failure")
	}
	if _, err := det.CheckSubscriber(ctx, 3); err != nil {
		t.Fatalf("second CheckSubscriber: %v", err)
	}
	if got := len(notifier.all()); got != 1 {
		t.Fatalf("got %d delivery attempts, want 1", got)
	}
}

func TestDetectorPersistFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newFakeSubs()
	subs.players[3] = []string{"A"}
	known := newFakeKnown()
	known.setErr = errors.New("disk full")
	lookup := newFakeLookup()
	lookup.ids["A"] = "pa"
	lookup.matches["pa"] = []Match{
		{ID: "m1", Scheduled: ts(t, "2026-02-02T12:00:00Z")},
		{ID: "m2", Scheduled: ts(t, "2026-02-03T12:00:00Z")},
	}
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)
	n, err := det.CheckSubscriber(ctx, 3)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 2 {
		t.Fatalf("persist failures must not stop the scan, got %d events", n)
	}
}

func TestDetectorPlayerFailureIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newFakeSubs()
	subs.players[9] = []string{"Broken", "Missing", "Fetchless", "Good"}
	known := newFakeKnown()
	lookup := newFakeLookup()
	lookup.resolveErr["Broken"] = errors.New("upstream 500")
	// "Missing" resolves to nobody (ErrPlayerNotFound via missing ids entry).
	lookup.ids["Fetchless"] = "pf"
	lookup.fetchErr["pf"] = errors.New("timeout")
	lookup.ids["Good"] = "pg"
	lookup.matches["pg"] = []Match{{ID: "ok", Scheduled: ts(t, "2026-06-06T09:00:00Z")}}
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)
	n, err := det.CheckSubscriber(ctx, 9)
	if err != nil {
		t.Fatalf("CheckSubscriber: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d notifications, want 1 (only the healthy player)", n)
	}
	if notifier.all()[0].Match.ID != "ok" {
		t.Fatalf("wrong match notified: %+v", notifier.all()[0])
	}
}

func TestDetectorStoreFailureIsFatalForSubscriber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subs := newFakeSubs()
	subs.players[2] = []string{"A"}
	known := newFakeKnown()
	known.loadErr = errors.New("corrupt ledger")
	lookup := newFakeLookup()
	notifier := &fakeNotifier{}

	det := NewDetector(subs, known, lookup, notifier, testLogger(), time.Second)
	if _, err := det.CheckSubscriber(ctx, 2); err == nil {
		t.Fatalf("expected error when the ledger cannot be read")
	}
}

func TestDedupeByID(t *testing.T) {
	t.Parallel()
	in := []Match{{ID: "a"}, {ID: "b"}, {ID: "a", Court: "Centre"}}
	out := dedupeByID(in)
	if len(out) != 2 {
		t.Fatalf("got %d matches, want 2", len(out))
	}
	for _, m := range out {
		if m.ID == "a" && m.Court != "Centre" {
			t.Fatalf("kept the earlier duplicate")
		}
	}
}

func TestSameInstant(t *testing.T) {
	t.Parallel()
	utc := ts(t, "2026-09-01T14:00:00Z")
	rome := utc.In(mustLoc(t, "Europe/Rome"))

	tests := []struct {
		name string
		a, b *time.Time
		want bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", utc, nil, false},
		{"equal", utc, utc, true},
		{"same instant different zone", utc, &rome, true},
		{"different instant", utc, ts(t, "2026-09-01T15:30:00Z"), false},
	}
	for _, tc := range tests {
		if got := sameInstant(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: sameInstant = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

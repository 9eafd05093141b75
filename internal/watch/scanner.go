package watch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/store"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// Scanner drives scan cycles across subscribers.
//
// Different subscribers are scanned in parallel up to a bounded worker count;
// scans for the SAME subscriber are serialized through a keyed mutex. A
// ScanOne request that races an in-flight scan of the same subscriber waits
// for it to finish (it does not coalesce).
type Scanner struct {
	det  *Detector
	subs store.SubscriberStore
	log  logx.Logger

	workers int

	lmu   sync.Mutex
	locks map[int64]*sync.Mutex

	smu      sync.Mutex
	lastScan time.Time
}

func NewScanner(det *Detector, subs store.SubscriberStore, log logx.Logger, workers int) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Scanner{
		det:     det,
		subs:    subs,
		log:     log,
		workers: workers,
		locks:   map[int64]*sync.Mutex{},
	}
}

// ScanOne runs one scan for one subscriber and reports how many notifications
// it produced.
func (s *Scanner) ScanOne(ctx context.Context, chatID int64) (int, error) {
	mu := s.lockFor(chatID)
	mu.Lock()
	defer mu.Unlock()
	return s.det.CheckSubscriber(ctx, chatID)
}

// ScanAll scans every subscriber known to the roster. A failure inside one
// subscriber's scan is logged and never aborts the others; ScanAll itself
// fails only when the subscriber list cannot be read at all.
func (s *Scanner) ScanAll(ctx context.Context) error {
	ids, err := s.subs.Subscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	started := time.Now()
	s.log.Debug("scan cycle started", logx.Int("subscribers", len(ids)))

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
launch:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break launch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in subscriber scan",
						logx.Int64("chat_id", id), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			n, err := s.ScanOne(ctx, id)
			if err != nil {
				s.log.Warn("subscriber scan failed", logx.Int64("chat_id", id), logx.Err(err))
				return
			}
			if n > 0 {
				s.log.Info("subscriber scan done", logx.Int64("chat_id", id), logx.Int("notifications", n))
			}
		}(id)
	}
	wg.Wait()

	// A cancelled cycle may have skipped subscribers; don't report it as the
	// last completed scan.
	if ctx.Err() != nil {
		s.log.Warn("scan cycle interrupted",
			logx.Int("subscribers", len(ids)), logx.Duration("took", time.Since(started)))
		return nil
	}

	s.smu.Lock()
	s.lastScan = started
	s.smu.Unlock()

	s.log.Info("scan cycle finished",
		logx.Int("subscribers", len(ids)), logx.Duration("took", time.Since(started)))
	return nil
}

// LastScan reports when the last completed full cycle started. Zero before
// the first cycle.
func (s *Scanner) LastScan() time.Time {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.lastScan
}

func (s *Scanner) lockFor(chatID int64) *sync.Mutex {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	mu, ok := s.locks[chatID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[chatID] = mu
	}
	return mu
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Scratchy77/scratchy-telegram-bot/internal/adapters/telegram"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/bot"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/config"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/notify"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/provider/sportdevs"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/store"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/transport"
	"github.com/Scratchy77/scratchy-telegram-bot/internal/watch"
	logx "github.com/Scratchy77/scratchy-telegram-bot/pkg/logx"
)

// App owns every long-lived component and their lifecycle.
type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	db      store.Store
	adapter *telegram.Adapter
	scanner *watch.Scanner
	router  *bot.Router

	cron   *cron.Cron
	cronID cron.EntryID

	updates chan transport.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("component", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		return validate(c)
	})

	busy, err := cfg.Storage.BusyTimeoutDuration()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provTimeout, err := cfg.Provider.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	lookup, err := sportdevs.NewClient(sportdevs.Config{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Timeout:    provTimeout,
		RatePerSec: cfg.Provider.RatePerSec,
	}, log.With(logx.String("component", "sportdevs")))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init provider: %w", err)
	}

	pollTimeout, err := cfg.Telegram.PollTimeoutDuration()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init telegram: %w", err)
	}

	notifier := notify.New(adapter, db, log.With(logx.String("component", "notify")), 0)

	notifyTimeout, err := cfg.Scan.NotifyTimeoutDuration()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	det := watch.NewDetector(db, db, lookup, notifier, log.With(logx.String("component", "detector")), notifyTimeout)
	scanner := watch.NewScanner(det, db, log.With(logx.String("component", "scanner")), cfg.Scan.Workers)

	router := bot.NewRouter(adapter, db, scanner, notifier, cfgm, log.With(logx.String("component", "bot")))

	return &App{
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log,
		db:      db,
		adapter: adapter,
		scanner: scanner,
		router:  router,
		cron:    cron.New(),
		updates: make(chan transport.Update, 128),
	}, nil
}

// Start brings up polling, the command dispatcher, the periodic scan, and the
// config watcher. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(rctx, a.updates); err != nil {
		cancel()
		return fmt.Errorf("start telegram: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.DispatchLoop(rctx, a.updates)
	}()

	interval, err := a.cfgm.Get().Scan.IntervalDuration()
	if err != nil {
		interval = 60 * time.Minute
	}
	if err := a.scheduleScan(rctx, interval); err != nil {
		cancel()
		return err
	}
	a.cron.Start()

	// One scan right away so a restart doesn't wait a full interval.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.scanner.ScanAll(rctx); err != nil {
			a.log.Warn("initial scan failed", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(rctx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchConfig(rctx)
	}()

	a.log.Info("started", logx.Duration("scan_interval", interval))
	return nil
}

func (a *App) scheduleScan(ctx context.Context, interval time.Duration) error {
	if a.cronID != 0 {
		a.cron.Remove(a.cronID)
		a.cronID = 0
	}
	id, err := a.cron.AddFunc("@every "+interval.String(), func() {
		if err := a.scanner.ScanAll(ctx); err != nil {
			a.log.Warn("scheduled scan failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	a.cronID = id
	return nil
}

// watchConfig applies hot-reloadable settings: logging sinks/level and the
// scan interval. Everything else (token, storage driver) needs a restart.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			if interval, err := cfg.Scan.IntervalDuration(); err == nil {
				if err := a.scheduleScan(ctx, interval); err != nil {
					a.log.Warn("rescheduling scan failed", logx.Err(err))
				} else {
					a.log.Info("scan interval updated", logx.Duration("scan_interval", interval))
				}
			}
		}
	}
}

// Stop shuts everything down, bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	_ = a.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out waiting for workers")
	}

	if err := a.db.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logSvc.Close()
	return nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("empty config")
	}
	if _, err := cfg.Scan.IntervalDuration(); err != nil {
		return err
	}
	if _, err := cfg.Scan.NotifyTimeoutDuration(); err != nil {
		return err
	}
	if _, err := cfg.Provider.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := cfg.Telegram.PollTimeoutDuration(); err != nil {
		return err
	}
	if _, err := cfg.Storage.BusyTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

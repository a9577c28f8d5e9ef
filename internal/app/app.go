package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	logx "herdbot/pkg/logx"

	"herdbot/internal/action"
	"herdbot/internal/activity"
	"herdbot/internal/batch"
	"herdbot/internal/config"
	"herdbot/internal/eventbus"
	"herdbot/internal/flow"
	"herdbot/internal/maintenance"
	"herdbot/internal/proxy"
	"herdbot/internal/registry"
	rtsup "herdbot/internal/runtime/supervisor"
	"herdbot/internal/session"
	"herdbot/internal/storage"
	kit "herdbot/internal/transport"
	telegram "herdbot/internal/transport/telegram/adapter"
	"herdbot/internal/transport/telegram/router"
)

// App owns the whole process: config, logging, storage, services, the
// control-bot adapter and the supervised background loops.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	pool    *session.Pool
	flows   *flow.Service
	proxies *proxy.Service
	runner  *batch.Runner
	reg     *registry.Registry
	loop    *activity.Loop
	sweeper *maintenance.Sweeper
	rtr     *router.Router

	updates chan kit.Update
}

// New builds the app from the config file. The dialer is injected so the
// MTProto implementation stays swappable (and fakeable in tests).
func New(cfgPath string, dialer action.Dialer) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging disabled, set the target, then Apply()
	// the final config. Avoids a false-positive warning about a missing target.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if chatID := parseChatID(cfg.Telegram.GroupLog); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Sessions.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("sessions dir: %w", err)
	}
	pool := session.NewPool(store, cfg.Sessions.Dir, log)
	flows := flow.NewService(store, pool, log)
	proxies := proxy.NewService(store, log)

	connectTimeout, err := config.ParseDurationOrDefault("sessions.connect_timeout", cfg.Sessions.ConnectTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	exec := action.NewExecutor(dialer, store,
		action.Creds{APIID: cfg.Sessions.APIID, APIHash: cfg.Sessions.APIHash},
		connectTimeout, pool.ArtifactPath, log)
	runner := batch.NewRunner(exec, pool, log)

	sweepSpec := ""
	if cfg.Maintenance != nil {
		sweepSpec = cfg.Maintenance.Spec
	}
	sweeper := maintenance.NewSweeper(store, pool, sweepSpec, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		pool:    pool,
		flows:   flows,
		proxies: proxies,
		runner:  runner,
		sweeper: sweeper,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.reg = registry.New(a.sup.Context(), a.bus, a.log)

	// Transactional config reload: Parse() already runs Validate(); the
	// watcher-level validator covers what needs live context.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	// Reconcile artifacts with the database before anything runs.
	if sessions, err := a.pool.Sync(a.sup.Context()); err != nil {
		a.log.Warn("session sync failed", logx.Err(err))
	} else {
		a.log.Info("session pool ready", logx.Int("sessions", len(sessions)))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	defaults, err := mapBatchDefaults(cfg)
	if err != nil {
		return err
	}
	a.rtr = router.New(router.Deps{
		Adapter:  a.adapter,
		Pool:     a.pool,
		Flows:    a.flows,
		Proxies:  a.proxies,
		Runner:   a.runner,
		Registry: a.reg,
		Sweeper:  a.sweeper,
		Store:    a.store,
		Owners:   cfg.Telegram.OwnerUserIDs,
		Defaults: defaults,
		Log:      a.log,
	})

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.rtr.Run(c, a.updates)
	})

	// Keep-alive loop (optional).
	if cfg.Activity != nil && cfg.Activity.Enabled {
		loop, err := a.buildActivityLoop(cfg.Activity)
		if err != nil {
			return err
		}
		a.loop = loop
		a.sup.GoRestart("activity.loop", a.loop.Run,
			rtsup.WithRestartBackoff(time.Second, time.Minute),
			rtsup.WithPublishFirstError(true),
		)
	}

	// Nightly sweep (optional).
	if cfg.Maintenance != nil && cfg.Maintenance.Enabled {
		if err := a.sweeper.Start(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	// Debug visibility into bus traffic.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out: logging and owner list apply live; storage and
	// sessions changes need a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) buildActivityLoop(ac *config.ActivityConfig) (*activity.Loop, error) {
	var window *activity.Window
	if strings.TrimSpace(ac.Window) != "" {
		w, err := activity.ParseWindow(ac.Window)
		if err != nil {
			return nil, err
		}
		window = &w
	}
	period, err := config.ParseDurationOrDefault("activity.period", ac.Period, 60*time.Second)
	if err != nil {
		return nil, err
	}
	source := func(ctx context.Context) ([]storage.Session, error) {
		return a.pool.ListActive(ctx)
	}
	return activity.NewLoop(a.runner, source, window, period, a.log), nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	if chatID := parseChatID(cfg.Telegram.GroupLog); chatID != 0 {
		a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})

	a.log.Info("config reloaded")
	a.log.Warn("storage/sessions/activity changes take effect after restart")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("runs", 5*time.Second, func(context.Context) error {
		if a.reg != nil {
			a.reg.CancelAll()
		}
		return nil
	})
	step("maintenance", 2*time.Second, func(context.Context) error {
		a.sweeper.Stop()
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	out := storage.Config{Path: "./herdbot.db"}
	if cfg.Storage == nil {
		return out, nil
	}
	out.Path = cfg.Storage.Path
	bt, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	out.BusyTimeout = bt
	return out, nil
}

func mapBatchDefaults(cfg *config.Config) (router.Defaults, error) {
	out := router.Defaults{}
	if cfg.Batch == nil {
		return out, nil
	}
	var err error
	out.ChunkSize = cfg.Batch.ChunkSize
	if out.PauseMin, err = config.ParseDurationField("batch.pause_min", cfg.Batch.PauseMin); err != nil {
		return out, err
	}
	if out.PauseMax, err = config.ParseDurationField("batch.pause_max", cfg.Batch.PauseMax); err != nil {
		return out, err
	}
	if out.FloodWaitCap, err = config.ParseDurationField("batch.flood_wait_cap", cfg.Batch.FloodWaitCap); err != nil {
		return out, err
	}
	return out, nil
}

func parseChatID(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

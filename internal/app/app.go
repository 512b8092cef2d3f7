// Package app wires the config manager, logging service, storage,
// Telegram adapter, highlight engine and command router into one
// start/stop lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"beacon/internal/adapters/telegram"
	"beacon/internal/config"
	"beacon/internal/eventbus"
	"beacon/internal/highlight"
	"beacon/internal/router"
	"beacon/internal/storage"
	"beacon/internal/transport"
	logx "beacon/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter transport.Adapter
	engine  *highlight.Engine
	router  *router.Router

	updates chan transport.Update

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  pollTimeout,
		UpdateBuffer: cfg.Telegram.UpdateBuffer,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := highlight.New(engCfg, store, ad, ad, log.With(logx.String("comp", "highlight")), bus)

	rt := router.New(eng, ad, log.With(logx.String("comp", "router")))

	buffer := cfg.Telegram.UpdateBuffer
	if buffer <= 0 {
		buffer = 256
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		router:  rt,
		updates: make(chan transport.Update, buffer),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	if err := a.engine.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start engine: %w", err)
	}
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return fmt.Errorf("start adapter: %w", err)
	}

	a.runWG.Add(3)

	// Inbound updates drive both the matching pipeline and the commands.
	go func() {
		defer a.runWG.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case up, ok := <-a.updates:
				if !ok {
					return
				}
				a.router.HandleUpdate(runCtx, up)
			}
		}
	}()

	// Engine events, kept at debug level for observability.
	events, unsub := a.bus.Subscribe(128)
	go func() {
		defer a.runWG.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	// Config hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.runWG.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
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
	}()

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch ended", logx.Err(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated reloaded config into the live services.
// Token and storage changes need a restart; everything else applies now.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		a.log.Warn("invalid highlight config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(engCfg)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	if a.runCancel != nil {
		a.runCancel()
	}

	// Bound each shutdown step so one stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("engine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown wait cancelled", logx.Err(ctx.Err()))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (highlight.Config, error) {
	if cfg == nil {
		return highlight.Config{}, nil
	}
	interval, err := cfg.Highlight.DispatchIntervalOrDefault()
	if err != nil {
		return highlight.Config{}, err
	}
	return highlight.Config{
		DispatchInterval:      interval,
		RatePerSec:            cfg.Highlight.RatePerSec,
		HistoryDepth:          cfg.Highlight.HistoryDepth,
		ContextWindow:         cfg.Highlight.ContextWindow,
		DefaultTimeoutMinutes: cfg.Highlight.DefaultTimeoutMinutes,
	}, nil
}

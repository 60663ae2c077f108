package app

import (
	"context"
	"fmt"

	"routined/internal/config"
	"routined/internal/eventbus"
	"routined/internal/registry"
	"routined/internal/routines"
	"routined/internal/runner"
	"routined/internal/runtime/supervisor"
	"routined/internal/storage"
	"routined/internal/transport/telegram"
	"routined/internal/trigger"
	logx "routined/pkg/logx"
)

// App wires the daemon together: config, logging, store, registry, trigger
// engine, and the optional Telegram transport.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg *registry.Registry
	eng *trigger.Engine
	svc *routines.Service
	tg  *telegram.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
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
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))
	cfgm.SetValidator(validateConfig)

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg, err := registry.Load(context.Background(), store,
		logSvc.Logger().With(logx.String("comp", "registry")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	run := runner.New(runner.NewBusDispatcher(bus),
		logSvc.Logger().With(logx.String("comp", "runner")))

	engCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	eng := trigger.New(engCfg, reg, run, logSvc.Logger().With(logx.String("comp", "trigger")))

	svc := routines.New(reg, eng, logSvc.Logger().With(logx.String("comp", "routines")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		reg:     reg,
		eng:     eng,
		svc:     svc,
	}

	if cfg.Telegram != nil {
		tgCfg, err := mapTelegramConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		tg, err := telegram.New(tgCfg, svc, bus, logSvc.Logger().With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("telegram transport: %w", err)
		}
		a.tg = tg
	}

	return a, nil
}

// Routines exposes the mutation API for embedding callers and tests.
func (a *App) Routines() *routines.Service { return a.svc }

// Bus exposes the dispatch sink for embedding callers.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// Hot-reload: logging and sweep interval apply live; storage and telegram
	// changes need a restart.
	updates := a.cfgm.Subscribe(2)
	a.sup.Go("config.apply", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.eng.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.log.Info("routined started", logx.Int("routines", len(a.reg.All())))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.tg != nil {
		a.tg.Stop(ctx)
	}
	a.eng.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}

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

	if engCfg, err := mapSchedulerConfig(cfg); err == nil {
		if err := a.eng.SetSweepInterval(engCfg.SweepInterval); err != nil {
			a.log.Warn("sweep interval not applied", logx.Err(err))
		}
	}

	a.log.Info("config applied", logx.String("level", cfg.Logging.Level))
}

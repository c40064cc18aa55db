// Package app wires the services together: config, logging, storage,
// the job runner and its handlers, the Telegram surface, and the ops
// endpoint. It owns startup order, config reload fan-out, and graceful
// shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"primeboard/internal/adapters/telegram"
	"primeboard/internal/bot"
	"primeboard/internal/config"
	"primeboard/internal/ingest"
	"primeboard/internal/ops"
	"primeboard/internal/services/cleanup"
	"primeboard/internal/services/leaderboard"
	"primeboard/internal/services/maintenance"
	"primeboard/internal/services/runner"
	"primeboard/internal/storage"
	"primeboard/internal/transport"
	"primeboard/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logSvc *logx.Service
	log    logx.Logger

	store   storage.Store
	mets    *ops.Metrics
	opsSrv  *ops.Server
	adapter *telegram.Adapter

	run     *runner.Service
	boards  *leaderboard.Service
	janitor *cleanup.Service
	maint   *maintenance.Service
	surface *bot.Service

	updates chan transport.Update

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
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
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	mets := ops.NewMetrics()
	opsSrv := ops.NewServer(mets, log.With(logx.String("comp", "ops")))

	runCfg, err := runnerConfig(cfg.Runner)
	if err != nil {
		return nil, err
	}
	run := runner.New(runCfg, store, mets, log)

	boards := leaderboard.New(leaderboard.Config{
		Size:            cfg.Leaderboard.Size,
		Metrics:         cfg.Leaderboard.Metrics,
		KeepGenerations: cfg.Leaderboard.KeepGenerations,
		Location:        loc,
	}, store, run, mets, log)
	boards.RegisterHandlers(run)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	cleanDelay, err := config.ParseDurationField("cleanup.delay", cfg.Cleanup.Delay)
	if err != nil {
		return nil, err
	}
	janitor := cleanup.New(cleanup.Config{
		Delay:       cleanDelay,
		MaxAttempts: cfg.Cleanup.MaxAttempts,
	}, run, adapter, mets, log)
	janitor.RegisterHandlers(run)

	jobRetention, err := config.ParseDurationField("maintenance.job_retention", cfg.Maintenance.JobRetention)
	if err != nil {
		return nil, err
	}
	maint := maintenance.New(maintenance.Config{
		RecomputeSpec: cfg.Maintenance.RecomputeSpec,
		PruneSpec:     cfg.Maintenance.PruneSpec,
		JobRetention:  jobRetention,
		Location:      loc,
	}, store, boards, log)

	writer := ingest.New(store, boards, log)
	surface := bot.New(bot.Config{BoardLimit: cfg.Leaderboard.Size},
		adapter, writer, boards, janitor, log)

	app := &App{
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log.With(logx.String("comp", "app")),
		store:   store,
		mets:    mets,
		opsSrv:  opsSrv,
		adapter: adapter,
		run:     run,
		boards:  boards,
		janitor: janitor,
		maint:   maint,
		surface: surface,
	}
	cfgm.SetValidator(app.validateConfig)
	return app, nil
}

func runnerConfig(rc config.RunnerConfig) (runner.Config, error) {
	poll, err := config.ParseDurationField("runner.poll_interval", rc.PollInterval)
	if err != nil {
		return runner.Config{}, err
	}
	lease, err := config.ParseDurationField("runner.lease_timeout", rc.LeaseTimeout)
	if err != nil {
		return runner.Config{}, err
	}
	base, err := config.ParseDurationField("runner.retry_base", rc.RetryBase)
	if err != nil {
		return runner.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("runner.retry_max_delay", rc.RetryMaxDelay)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		Workers:            rc.Workers,
		PollInterval:       poll,
		BatchSize:          rc.BatchSize,
		LeaseTimeout:       lease,
		RetryBase:          base,
		RetryMaxDelay:      maxDelay,
		DefaultMaxAttempts: rc.MaxAttempts,
	}, nil
}

// validateConfig gates hot reloads: durations must parse and the
// timezone must resolve before a new config is committed.
func (a *App) validateConfig(ctx context.Context, cfg *config.Config) error {
	if _, err := runnerConfig(cfg.Runner); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"cleanup.delay", cfg.Cleanup.Delay},
		{"maintenance.job_retention", cfg.Maintenance.JobRetention},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
	} {
		if _, err := config.ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	cfg := a.cfgm.Get()

	a.opsSrv.Apply(ctx, ops.Config{Enabled: cfg.Ops.Enabled, Addr: cfg.Ops.Addr})

	a.run.Start(ctx)
	if err := a.maint.Start(ctx); err != nil {
		return err
	}

	a.updates = a.surface.Updates()
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.surface.Run(ctx, a.updates)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(ctx)
	}()

	a.log.Info("started",
		logx.Bool("ops", cfg.Ops.Enabled),
		logx.Int("leaderboard_size", cfg.Leaderboard.Size))
	return nil
}

// reloadLoop applies committed config changes to the services that can
// take them live: logging and the ops endpoint. Everything else picks up
// new values on restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			prev = cfg
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)

			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.opsSrv.Apply(ctx, ops.Config{Enabled: cfg.Ops.Enabled, Addr: cfg.Ops.Addr})
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		// Inbound first so no new work arrives, then the runner so
		// in-flight jobs finish.
		_ = a.adapter.Stop(ctx)
		a.surface.Stop(ctx)
		if a.cancel != nil {
			a.cancel()
		}
		a.run.Stop(ctx)
		a.maint.Stop(ctx)
		a.opsSrv.Stop(ctx)
		a.wg.Wait()
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		_ = a.logSvc.Close()
		a.log.Info("stopped")
	})
	return nil
}

// Package app wires configuration, infrastructure and the entity
// pipelines into one runnable application: a one-shot mode that pulls
// every enabled entity once, and a schedule mode driven by cron.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mdetl/internal/config"
	"mdetl/internal/exporter"
	"mdetl/internal/extract"
	"mdetl/internal/infrastructure"
	"mdetl/internal/load"
	"mdetl/internal/pipeline"
	"mdetl/internal/ratelimit"
	"mdetl/internal/retry"
	"mdetl/internal/standardize"
	"mdetl/internal/validate"
)

// Application is the composed service.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *infrastructure.Metrics

	store   *load.Store
	runner  *pipeline.Runner
	tracker *pipeline.Tracker
	tracing *infrastructure.TracerProviders
	ops     *OpsServer
}

// New builds the application from loaded configuration.
func New(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracing, err := infrastructure.InitializeTracing(cfg.Ops.TraceDebug, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics := infrastructure.NewMetrics()

	store, err := load.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay).
		WithLogger(logger)

	pacer := rate.NewLimiter(rate.Limit(cfg.Pipeline.GlobalRPS), cfg.Pipeline.GlobalBurst)
	factory := extract.NewFactory(cfg, ratelimit.NewRegistry(), pacer, policy, metrics, logger)

	timezones := make(map[string]string, len(cfg.Sources))
	for name, src := range cfg.Sources {
		if src.Timezone != "" {
			timezones[name] = src.Timezone
		}
	}

	tracker := pipeline.NewTracker(100)
	var rejections pipeline.RejectionSink
	if cfg.Pipeline.ExportDir != "" {
		rejections = exporter.NewRejectedWriter(cfg.Pipeline.ExportDir, logger)
	}

	runner := pipeline.NewRunner(pipeline.RunnerOptions{
		Extractors:   factory,
		Standardizer: standardize.New(cfg.Pipeline.ReportingCurrency, standardize.DefaultRates(), timezones, logger),
		Validator:    validate.New(cfg.Pipeline.AllowAnomalies, cfg.Pipeline.AnomalyZScoreThreshold, logger),
		Loader:       load.NewLoader(store, policy, cfg.Pipeline.BatchSize, metrics, logger),
		Runs:         load.NewRunStore(store, policy, logger),
		Rejections:   rejections,
		Tracker:      tracker,
		Metrics:      metrics,
		Logger:       logger,
	})

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		store:   store,
		runner:  runner,
		tracker: tracker,
		tracing: tracing,
	}
	if cfg.Ops.Enabled {
		app.ops = NewOpsServer(cfg.Ops, store, tracker, metrics, logger)
	}
	return app, nil
}

// Run executes the configured mode until ctx is cancelled. One-shot
// mode returns after a single pull of every enabled entity.
func (a *Application) Run(ctx context.Context) error {
	if a.ops != nil {
		go func() {
			if err := a.ops.Start(); err != nil {
				a.Logger.Error("ops server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if a.Config.Schedule.Enabled {
		return a.runScheduled(ctx)
	}
	return a.RunOnce(ctx)
}

// RunOnce pulls every enabled entity concurrently. It returns an error
// when any run ends in a failed status so callers can exit non-zero.
func (a *Application) RunOnce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var failed []string

	for _, name := range a.Config.Jobs.Entities {
		entity := extract.EntityType(strings.TrimSpace(name))
		g.Go(func() error {
			run, err := a.runner.Run(ctx, entity, a.paramsFor(entity))
			if err != nil {
				return err
			}
			if run.Status() == pipeline.StatusFailed {
				mu.Lock()
				failed = append(failed, string(entity))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("pipelines failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (a *Application) runScheduled(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(a.Config.Schedule.Spec, func() {
		if err := a.RunOnce(infrastructure.EnsureTraceID(ctx)); err != nil {
			a.Logger.Error("scheduled run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule spec %q: %w", a.Config.Schedule.Spec, err)
	}

	a.Logger.Info("schedule mode started", slog.String("spec", a.Config.Schedule.Spec))
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		a.Logger.Warn("timed out waiting for scheduled runs to finish")
	}
	return ctx.Err()
}

// paramsFor builds the pull parameters for one entity from the jobs
// configuration.
func (a *Application) paramsFor(entity extract.EntityType) extract.Params {
	jobs := a.Config.Jobs
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -jobs.LookbackDays)

	p := extract.Params{
		Start:    start,
		End:      end,
		Interval: jobs.Interval,
	}
	switch entity {
	case extract.EntityStock:
		p.Symbols = jobs.Symbols
	case extract.EntityCrypto:
		p.Symbols = jobs.CryptoSymbols
	case extract.EntityForex:
		p.Pairs = jobs.Pairs
	case extract.EntityEconomic:
		p.SeriesIDs = jobs.SeriesIDs
	case extract.EntityWeather:
		for _, name := range jobs.Locations {
			p.Locations = append(p.Locations, extract.Location{Name: name})
		}
	}
	return p
}

// Shutdown releases resources. Safe to call after Run returns.
func (a *Application) Shutdown(ctx context.Context) {
	if a.ops != nil {
		if err := a.ops.Stop(ctx); err != nil {
			a.Logger.Warn("ops server shutdown failed", slog.String("error", err.Error()))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.Logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}
	if err := a.store.Close(); err != nil {
		a.Logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogFile()
}

// Package app builds and owns the long-lived services of a crawl process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/api"
	"github.com/JakeFAU/grqaser-crawler/internal/clock/system"
	"github.com/JakeFAU/grqaser-crawler/internal/config"
	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/extract"
	"github.com/JakeFAU/grqaser-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/grqaser-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/grqaser-crawler/internal/fetcher/detector"
	headlessfetcher "github.com/JakeFAU/grqaser-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/grqaser-crawler/internal/id/uuid"
	"github.com/JakeFAU/grqaser-crawler/internal/metrics"
	"github.com/JakeFAU/grqaser-crawler/internal/orchestrator"
	"github.com/JakeFAU/grqaser-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/grqaser-crawler/internal/policy/simple"
	"github.com/JakeFAU/grqaser-crawler/internal/runlog"
	"github.com/JakeFAU/grqaser-crawler/internal/runlog/sinks"
	"github.com/JakeFAU/grqaser-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/grqaser-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/grqaser-crawler/internal/storage/sqlite"
)

// App holds every service a command needs. Build it once, Close it once.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        crawler.Store
	headless     *headlessfetcher.Fetcher
	runLog       *runlog.Hub
	orchestrator *orchestrator.Orchestrator
	httpServer   *http.Server
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStore exposes the frontier, book and log repositories.
func (a *App) GetStore() crawler.Store {
	return a.store
}

// GetOrchestrator returns the mode runner.
func (a *App) GetOrchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Run executes one crawl mode.
func (a *App) Run(ctx context.Context, mode config.Mode) (crawler.RunStats, error) {
	return a.orchestrator.Run(ctx, mode)
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("mode", cfg.Run.Mode),
		zap.Bool("headless", cfg.Fetcher.Headless),
	)

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}
	pageFetcher, err := app.setupFetcher()
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupRunLog(); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.orchestrator, err = orchestrator.New(app.store, pageFetcher, orchestrator.Options{
		BaseURL:    cfg.Fetcher.BaseURL,
		Delay:      cfg.Run.Delay(),
		MaxRetries: cfg.Run.MaxRetries,
		Retry:      crawler.NewExponentialRetryPolicy(cfg.Run.BackoffBase()),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Fetcher.RatePerSecond,
			DefaultBurst: cfg.Fetcher.Burst,
		}),
		CleanupNonAudio: cfg.Run.CleanupNonAudio,
		Clock:           system.New(),
		RunLog:          app.runLog,
		IDs:             uuid.New(),
		Logger:          logger.Named("orchestrator"),
	})
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	app.setupServer()
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	clock := system.New()
	switch a.cfg.Store.Driver {
	case config.DriverMemory:
		a.logger.Info("using in-memory store")
		a.store = memory.NewStore(clock, memory.WithMaxRetries(a.cfg.Run.MaxRetries))
	case config.DriverSQLite:
		a.logger.Info("using sqlite store", zap.String("path", a.cfg.Store.SQLitePath))
		s, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:       a.cfg.Store.SQLitePath,
			MaxRetries: a.cfg.Run.MaxRetries,
			Logger:     a.logger.Named("sqlite"),
		}, clock)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = s
	case config.DriverPostgres:
		a.logger.Info("using postgres store")
		s, err := pgstore.Open(ctx, pgstore.Config{
			DSN:        a.cfg.Store.PostgresDSN,
			MaxConns:   a.cfg.Store.MaxConns,
			MinConns:   a.cfg.Store.MinConns,
			MaxRetries: a.cfg.Run.MaxRetries,
			Logger:     a.logger.Named("postgres"),
		}, clock)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = s
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	return nil
}

func (a *App) setupFetcher() (*fetcher.PageFetcher, error) {
	source := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetcher.UserAgent,
		RespectRobots: a.cfg.Fetcher.RespectRobots,
		Timeout:       a.cfg.Run.Timeout(),
		Logger:        a.logger,
	})
	a.logger.Info("using colly page source", zap.String("user_agent", a.cfg.Fetcher.UserAgent))

	scope, err := simple.New(a.cfg.Fetcher.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch scope init failed: %w", err)
	}
	opts := fetcher.Options{Scope: scope, Logger: a.logger}
	if a.cfg.Fetcher.Headless {
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Fetcher.HeadlessMaxParallel,
			UserAgent:         a.cfg.Fetcher.UserAgent,
			NavigationTimeout: a.cfg.Run.Timeout(),
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.headless = h
			opts.Fallback = h
			opts.Promoter = detector.NewHeuristic(a.cfg.Fetcher.PromotionThreshold)
			a.logger.Info("using headless fallback", zap.Int("max_parallel", a.cfg.Fetcher.HeadlessMaxParallel))
		}
	}
	pf, err := fetcher.New(source, extract.New(), opts)
	if err != nil {
		return nil, fmt.Errorf("page fetcher init failed: %w", err)
	}
	return pf, nil
}

func (a *App) setupRunLog() error {
	var sinkList []runlog.Sink
	if a.cfg.RunLog.Persist {
		sinkList = append(sinkList, sinks.NewStoreSink(a.store, a.logger.Named("runlog_store")))
	}
	if a.cfg.RunLog.Echo {
		sinkList = append(sinkList, sinks.NewZapSink(a.logger.Named("runlog")))
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("runlog metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := runlog.Config{
		BufferSize: a.cfg.RunLog.BufferSize,
		MaxBatch:   a.cfg.RunLog.MaxBatch,
		MaxWait:    a.cfg.RunLog.MaxWait(),
		Clock:      system.New(),
		Logger:     a.logger.Named("runlog_hub"),
	}
	a.runLog = runlog.NewHub(hubCfg, sinkList...)
	a.logger.Info("run log hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch", hubCfg.MaxBatch),
		zap.Duration("max_wait", hubCfg.MaxWait),
	)
	return nil
}

func (a *App) setupServer() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	a.httpServer = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           api.NewServer(a.store, a.logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", a.cfg.Metrics.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
}

// Close shuts services down in dependency order: the listener, then the run
// log (which still writes to the store), then the store itself.
func (a *App) Close(ctx context.Context) error {
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	// Sync reports EINVAL for stderr on linux.
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.runLog != nil {
		if err := a.runLog.Close(ctx); err != nil {
			a.logger.Warn("run log close failed", zap.Error(err))
		}
		if dropped := a.runLog.Dropped(); dropped > 0 {
			a.logger.Warn("run log entries dropped", zap.Int64("dropped", dropped))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

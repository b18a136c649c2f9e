// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/api"
	"github.com/JakeFAU/page-scraper/internal/assets"
	"github.com/JakeFAU/page-scraper/internal/clock/system"
	"github.com/JakeFAU/page-scraper/internal/config"
	"github.com/JakeFAU/page-scraper/internal/extractor"
	collyfetcher "github.com/JakeFAU/page-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/page-scraper/internal/hash/sha256"
	"github.com/JakeFAU/page-scraper/internal/headless/detector"
	"github.com/JakeFAU/page-scraper/internal/id/uuid"
	"github.com/JakeFAU/page-scraper/internal/logging"
	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/page-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/page-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/page-scraper/internal/raster/headless"
	"github.com/JakeFAU/page-scraper/internal/raster/vector"
	"github.com/JakeFAU/page-scraper/internal/retention"
	"github.com/JakeFAU/page-scraper/internal/scraper"
	"github.com/JakeFAU/page-scraper/internal/storage/local"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	store           *local.SessionStore
	service         *scraper.Service
	retention       *retention.Manager
	apiServer       *api.Server
	pubsubPublisher *gcppublisher.Publisher
	eventLog        *memorypublisher.Publisher
	headless        *headless.Rasterizer
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("output_dir", cfg.Storage.OutputDir),
		zap.String("rasterizer", cfg.Assets.Rasterizer),
		zap.String("events_backend", cfg.Events.Backend),
	)

	clock := system.New()
	app.store, err = local.New(local.Config{BaseDir: cfg.Storage.OutputDir}, uuid.New(), clock, logger)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	rasterizer, err := setupRasterizer(app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.retention = retention.New(retention.Config{
		TTL:        cfg.Retention.TTL(),
		Interval:   cfg.Retention.Interval,
		EventTopic: cfg.Events.Topic,
	}, app.store, clock, publisher, logger)

	app.service = scraper.NewService(
		scraper.ServiceConfig{
			TTL:        cfg.Retention.TTL(),
			AssetBound: cfg.Assets.Concurrency,
			EventTopic: cfg.Events.Topic,
		},
		setupFetcher(app),
		extractor.New(),
		setupDownloader(app, rasterizer),
		app.store,
		logger,
		scraper.WithPublisher(publisher),
		scraper.WithHasher(sha256.New()),
		scraper.WithRenderDetector(detector.NewHeuristic(0)),
		scraper.WithClock(clock),
	)

	var apiOpts []api.Option
	if app.eventLog != nil {
		apiOpts = append(apiOpts, api.WithEventLog(app.eventLog))
	}
	app.apiServer = api.NewServer(app.service, app.store, app.retention, *cfg, logger, apiOpts...)
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Scrape runs one scrape through the pipeline.
func (a *App) Scrape(ctx context.Context, req scraper.ScrapeRequest) (scraper.ScrapeResult, error) {
	return a.service.Scrape(ctx, req)
}

// Sweep removes sessions older than maxAge.
func (a *App) Sweep(ctx context.Context, maxAge time.Duration) (scraper.SweepResult, error) {
	return a.retention.Sweep(ctx, maxAge)
}

// PurgeAll removes every idle session.
func (a *App) PurgeAll(ctx context.Context) (scraper.SweepResult, error) {
	return a.retention.PurgeAll(ctx)
}

// TTL returns the configured session lifetime.
func (a *App) TTL() time.Duration { return a.retention.TTL() }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

func setupFetcher(app *App) scraper.Fetcher {
	cfg := app.cfg
	page := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scraper.UserAgent,
		RespectRobots: cfg.Scraper.RespectRobots,
		Timeout:       cfg.Scraper.PageTimeout,
		MaxBodySize:   cfg.Scraper.MaxPageBytes,
	}, app.logger)
	policy := scraper.NewExponentialRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	app.logger.Info("page fetcher configured",
		zap.Bool("respect_robots", cfg.Scraper.RespectRobots),
		zap.Duration("timeout", cfg.Scraper.PageTimeout),
		zap.Int("max_attempts", policy.MaxAttempts()),
	)
	return scraper.NewRetryingFetcher(page, policy, scraper.Jitter{
		Min: cfg.Scraper.JitterMin,
		Max: cfg.Scraper.JitterMax,
	}, app.logger)
}

func setupRasterizer(app *App) (scraper.Rasterizer, error) {
	cfg := app.cfg.Assets
	if cfg.Rasterizer != config.RasterizerHeadless {
		app.logger.Info("using vector rasterizer", zap.Int("max_dimension", cfg.MaxRasterDimension))
		return vector.New(cfg.MaxRasterDimension), nil
	}
	r, err := headless.NewChromedp(headless.Config{
		MaxParallel:   cfg.Headless.MaxParallel,
		RenderTimeout: cfg.Headless.RenderTimeout,
		ExecPath:      cfg.Headless.ExecPath,
		NoSandbox:     cfg.Headless.NoSandbox,
	})
	if err != nil {
		return nil, fmt.Errorf("headless rasterizer init failed: %w", err)
	}
	app.headless = r
	app.logger.Info("using headless rasterizer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	return r, nil
}

func setupDownloader(app *App, rasterizer scraper.Rasterizer) *assets.Downloader {
	cfg := app.cfg
	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS:   cfg.Assets.PerHostRPS,
		PerHostBurst: cfg.Assets.PerHostBurst,
	})
	userAgent := cfg.Scraper.UserAgent
	if userAgent == "" {
		userAgent = collyfetcher.DefaultUserAgent
	}
	return assets.New(assets.Config{
		MaxImageSize: cfg.Assets.MaxImageSize,
		Concurrency:  cfg.Assets.Concurrency,
		Timeout:      cfg.Assets.Timeout,
		ChunkSize:    cfg.Assets.ChunkSize,
		Jitter:       scraper.Jitter{Min: cfg.Assets.JitterMin, Max: cfg.Assets.JitterMax},
		UserAgent:    userAgent,
	}, nil, rasterizer, limiter, app.logger)
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	cfg := app.cfg.Events
	if cfg.Backend != config.EventsPubSub {
		app.logger.Info("using in-memory event publisher", zap.Int("capacity", cfg.Capacity))
		app.eventLog = memorypublisher.New(cfg.Capacity)
		return app.eventLog, nil
	}
	p, err := gcppublisher.Connect(ctx, cfg.ProjectID, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsubPublisher = p
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return p, nil
}

// Run serves HTTP and runs the retention loop until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retentionDone := make(chan struct{})
	if a.cfg.Retention.Enabled {
		go func() {
			defer close(retentionDone)
			a.logger.Info("retention loop started", zap.Duration("interval", a.cfg.Retention.Interval))
			if err := a.retention.Run(ctx); err != nil {
				a.logger.Error("retention loop stopped", zap.Error(err))
			}
		}()
	} else {
		close(retentionDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-retentionDone

	return a.Close(shutdownCtx)
}

// Close cancels pending cleanups and releases external clients.
func (a *App) Close(_ context.Context) error {
	if a.retention != nil {
		a.retention.Stop()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
}

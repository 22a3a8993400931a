// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/jobrunner/seriesview/internal/adapters/history"
	httpAdapter "github.com/jobrunner/seriesview/internal/adapters/http"
	"github.com/jobrunner/seriesview/internal/adapters/metrics"
	"github.com/jobrunner/seriesview/internal/adapters/process"
	"github.com/jobrunner/seriesview/internal/adapters/storage"
	"github.com/jobrunner/seriesview/internal/adapters/watcher"
	"github.com/jobrunner/seriesview/internal/application"
	"github.com/jobrunner/seriesview/internal/config"
	"github.com/jobrunner/seriesview/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Fs            afero.Fs
	Fetchers      *storage.Router
	History       *history.Store // nil when history is disabled
	Registry      *application.InvocationRegistry
	SeriesService *application.SeriesService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	Metrics       *metrics.Collector // nil when metrics are disabled
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Fs:     afero.NewOsFs(),
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	var metricsHandler httpAdapter.MetricsHandler
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("seriesview")
		metricsCollector = app.Metrics
		metricsHandler = app.Metrics
	}

	// Initialize fetchers
	fetchers, err := initFetchers(ctx, cfg, app.Fs)
	if err != nil {
		return nil, fmt.Errorf("initializing fetchers: %w", err)
	}
	app.Fetchers = fetchers
	logger.Info("fetchers registered", "schemes", fetchers.Schemes())

	// Initialize invocation history
	var invocationHistory output.InvocationHistory = &output.NoOpHistory{}
	if cfg.History.Enabled {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		app.History = store
		invocationHistory = store
	}

	// Filesystem events shorten readiness waits when enabled
	var notifier output.ChangeNotifier
	if cfg.Readiness.Watch {
		notifier = watcher.NewNotifier(cfg.Readiness.Debounce, logger.With("component", "watcher"))
	}

	app.Registry = application.NewInvocationRegistry(metricsCollector, logger.With("component", "registry"))

	coordinator := application.NewDownloadCoordinator(
		app.Fs,
		app.Fetchers,
		cfg.Backend.BaseURL,
		cfg.Download.MaxConcurrency,
		metricsCollector,
		logger.With("component", "coordinator"),
	)

	poller := application.NewReadinessPoller(
		app.Fs,
		application.ReadinessConfig{
			MaxAttempts: cfg.Readiness.MaxAttempts,
			Delay:       cfg.Readiness.Delay,
		},
		notifier,
		metricsCollector,
		logger.With("component", "readiness"),
	)

	launcher := application.NewViewerLauncher(
		application.ViewerConfig{
			Executable:  cfg.Viewer.Executable,
			ImageName:   cfg.Viewer.ResolvedImageName(),
			SettleDelay: cfg.Viewer.SettleDelay,
		},
		process.NewController(cfg.Viewer.KillCommand, logger.With("component", "process")),
		metricsCollector,
		logger.With("component", "launcher"),
	)

	app.SeriesService = application.NewSeriesService(
		application.StagingArea{
			Fs:     app.Fs,
			Root:   cfg.Staging.Root,
			Prefix: cfg.Staging.Prefix,
		},
		coordinator,
		poller,
		launcher,
		app.Registry,
		invocationHistory,
		metricsCollector,
		logger.With("component", "series"),
	)

	// Initialize health service
	app.HealthService = application.NewHealthService(
		app.Fs,
		cfg.Staging.Root,
		launcher.Executable(),
		app.Registry,
		cfg.History.Enabled,
	)

	// Initialize HTTP server
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.SeriesService,
		app.HealthService,
		metricsHandler,
		cfg.Metrics.Path,
		logger,
	)

	return app, nil
}

// Start starts the HTTP server and blocks until it stops.
func (a *App) Start(_ context.Context) error {
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components. Running invocations are
// canceled once the HTTP server has drained.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.SeriesService.Shutdown(ctx); err != nil {
		a.Logger.Error("series service shutdown error", "error", err)
	}

	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Logger.Error("closing history failed", "error", err)
			return err
		}
	}

	return nil
}

// initFetchers registers one fetcher per enabled locator scheme. HTTP and
// HTTPS are always available.
func initFetchers(ctx context.Context, cfg *config.Config, fs afero.Fs) (*storage.Router, error) {
	router := storage.NewRouter()

	httpFetcher := storage.NewHTTPFetcher(storage.HTTPConfig{
		Timeout:   cfg.Download.Timeout,
		Username:  cfg.Download.Username,
		Password:  cfg.Download.Password,
		UserAgent: cfg.Download.UserAgent,
	})
	router.Register(output.SchemeHTTP, httpFetcher)
	router.Register(output.SchemeHTTPS, httpFetcher)

	if cfg.Storage.S3.Enabled {
		s3Fetcher, err := storage.NewS3Fetcher(ctx, storage.S3Config{
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		router.Register(output.SchemeS3, s3Fetcher)
	}

	if cfg.Storage.Azure.Enabled {
		azureFetcher, err := storage.NewAzureFetcher(storage.AzureConfig{
			AccountName:      cfg.Storage.Azure.AccountName,
			AccountKey:       cfg.Storage.Azure.AccountKey,
			ConnectionString: cfg.Storage.Azure.ConnectionString,
		})
		if err != nil {
			return nil, fmt.Errorf("azure: %w", err)
		}
		router.Register(output.SchemeAzure, azureFetcher)
	}

	if cfg.Storage.Local.Enabled {
		router.Register(output.SchemeFile, storage.NewLocalFetcher(fs, cfg.Storage.Local.Root))
	}

	return router, nil
}

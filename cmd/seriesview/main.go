// Package main provides the entry point for the seriesview service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/seriesview/internal/app"
	"github.com/jobrunner/seriesview/internal/config"
	"github.com/jobrunner/seriesview/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seriesview",
	Short: "seriesview - open imaging series in a local viewer",
	Long: `seriesview is the local companion service of the imaging UI.

It downloads the files of an image series into a fresh staging directory,
waits until every file is on disk and opens the directory in the external
viewer, closing any viewer that is already running.

Features:
  - Concurrent downloads over HTTP(S), S3, Azure Blob Storage and local files
  - Bounded readiness polling with optional filesystem notifications
  - Invocation history in SQLite
  - Prometheus metrics`,
	RunE: runServer,
}

var openCmd = &cobra.Command{
	Use:   "open <locator>...",
	Short: "Open a series once and exit",
	Long: `Downloads the given locators, waits for them to materialize and launches
the viewer. Relative locators resolve against backend.base_url. The exit
status is non-zero unless the viewer was launched.`,
	RunE: runOpen,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("seriesview %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("backend-url", "", "base URL for relative locators")
	rootCmd.PersistentFlags().String("staging-root", "", "directory that holds staging directories")
	rootCmd.PersistentFlags().String("viewer", "", "path of the viewer executable")
	rootCmd.PersistentFlags().Bool("watch", false, "wake readiness polling on filesystem events")

	// Server flags
	rootCmd.Flags().String("host", "127.0.0.1", "server host")
	rootCmd.Flags().Int("port", 8765, "server port")
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., http://localhost:3000,http://localhost:*)")

	// Open flags
	openCmd.Flags().String("format", "dicom", "series format (dicom, nifti, nifti-gz, zip)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("backend.base_url", rootCmd.PersistentFlags().Lookup("backend-url"))
	_ = viper.BindPFlag("staging.root", rootCmd.PersistentFlags().Lookup("staging-root"))
	_ = viper.BindPFlag("viewer.executable", rootCmd.PersistentFlags().Lookup("viewer"))
	_ = viper.BindPFlag("readiness.watch", rootCmd.PersistentFlags().Lookup("watch"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(openCmd, versionCmd)
}

func initConfig() {
	// A .env file next to the binary is optional.
	_ = godotenv.Load()

	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting seriesview",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"viewer", cfg.Viewer.Executable,
		"staging_root", cfg.Staging.Root,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	formatName, _ := cmd.Flags().GetString("format")
	format, err := domain.ParseFormat(formatName)
	if err != nil {
		return err
	}
	req := domain.DownloadRequest{Locators: args, Format: format}
	if err := req.Validate(); err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	outcome := application.SeriesService.Open(ctx, req)
	if !outcome.OK() {
		return fmt.Errorf("%s: %s", outcome.State, outcome.Reason)
	}

	fmt.Println(outcome.StagingDir)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

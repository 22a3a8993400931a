package application

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jobrunner/seriesview/internal/domain"
	"github.com/jobrunner/seriesview/internal/ports/output"
)

// ViewerConfig describes the external viewer.
type ViewerConfig struct {
	Executable  string
	ImageName   string // default: base name of Executable
	SettleDelay time.Duration
}

// ViewerLauncher replaces any running viewer with one showing a staging
// directory.
type ViewerLauncher struct {
	cfg     ViewerConfig
	procs   output.ProcessController
	wait    WaitFunc
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewViewerLauncher creates a viewer launcher.
func NewViewerLauncher(
	cfg ViewerConfig,
	procs output.ProcessController,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *ViewerLauncher {
	if cfg.ImageName == "" {
		cfg.ImageName = filepath.Base(cfg.Executable)
	}
	return &ViewerLauncher{
		cfg:     cfg,
		procs:   procs,
		wait:    SleepWait,
		metrics: metrics,
		logger:  logger,
	}
}

// Launch terminates running viewer instances, waits for the settle delay
// and starts the viewer on dir. Termination failures are ignored since no
// viewer may be running.
func (l *ViewerLauncher) Launch(ctx context.Context, dir string) error {
	if err := l.procs.Terminate(ctx, l.cfg.ImageName); err != nil {
		l.logger.Debug("terminate viewer", "image", l.cfg.ImageName, "error", err)
	}

	if err := l.wait(ctx, l.cfg.SettleDelay); err != nil {
		return &domain.LaunchError{Executable: l.cfg.Executable, Err: err}
	}

	if err := l.procs.Start(ctx, l.cfg.Executable, dir); err != nil {
		l.metrics.IncViewerLaunches(false)
		l.logger.Error("viewer failed to launch", "executable", l.cfg.Executable, "dir", dir, "error", err)
		return &domain.LaunchError{Executable: l.cfg.Executable, Err: err}
	}

	l.metrics.IncViewerLaunches(true)
	l.logger.Info("viewer launched", "executable", l.cfg.Executable, "dir", dir)
	return nil
}

// Executable returns the configured viewer path.
func (l *ViewerLauncher) Executable() string {
	return l.cfg.Executable
}

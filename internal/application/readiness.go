package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/jobrunner/seriesview/internal/domain"
	"github.com/jobrunner/seriesview/internal/ports/output"
)

// ReadinessConfig bounds the readiness poll.
type ReadinessConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// ReadinessPoller waits until a staging directory holds the expected
// number of non-empty files.
type ReadinessPoller struct {
	fs       afero.Fs
	cfg      ReadinessConfig
	notifier output.ChangeNotifier
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

// NewReadinessPoller creates a readiness poller. notifier may be nil, in
// which case every attempt waits the full delay.
func NewReadinessPoller(
	fs afero.Fs,
	cfg ReadinessConfig,
	notifier output.ChangeNotifier,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *ReadinessPoller {
	return &ReadinessPoller{
		fs:       fs,
		cfg:      cfg,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// Await blocks until dir holds expected files ending in ext, each of
// non-zero size. It returns the attempts used and ErrNotMaterialized when
// the budget runs out.
func (p *ReadinessPoller) Await(ctx context.Context, dir, ext string, expected int) (int, error) {
	wait := SleepWait

	if p.notifier != nil {
		changes, stop, err := p.notifier.Subscribe(dir, ext)
		if err != nil {
			p.logger.Warn("directory watch unavailable, polling only", "dir", dir, "error", err)
		} else {
			defer stop()
			wait = wakeOn(changes, func() bool {
				ok, err := p.ready(dir, ext, expected)
				return ok && err == nil
			})
		}
	}

	attempts, err := Retry(ctx, RetryPolicy{
		MaxAttempts: p.cfg.MaxAttempts,
		Delay:       p.cfg.Delay,
		Wait:        wait,
		Logger:      p.logger,
	}, func(context.Context) (bool, error) {
		return p.ready(dir, ext, expected)
	})

	p.metrics.ObserveReadinessAttempts(attempts, err == nil)

	if err != nil {
		p.logger.Warn("staged files not materialized",
			"dir", dir,
			"expected", expected,
			"attempts", attempts,
			"error", err,
		)
		return attempts, fmt.Errorf("%w: %d files in %s after %d attempts", domain.ErrNotMaterialized, expected, dir, attempts)
	}

	p.logger.Debug("staged files ready", "dir", dir, "files", expected, "attempts", attempts)
	return attempts, nil
}

// ready is one readiness check. Listing and stat errors are reported as
// errors and treated as "not yet" by Retry.
func (p *ReadinessPoller) ready(dir, ext string, expected int) (bool, error) {
	entries, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		return false, err
	}

	var matching []os.FileInfo
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			matching = append(matching, e)
		}
	}

	if len(matching) != expected {
		return false, nil
	}

	for _, e := range matching {
		info, err := p.fs.Stat(filepath.Join(dir, e.Name()))
		if err != nil {
			return false, err
		}
		if info.Size() == 0 {
			return false, nil
		}
	}

	return true, nil
}

// wakeOn returns a WaitFunc that ends early only when a change event finds
// the directory ready. Other events keep waiting on the same timer, so a
// burst of events does not shorten the attempt budget.
func wakeOn(changes <-chan struct{}, ready func() bool) WaitFunc {
	return func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			case <-changes:
				if ready() {
					return nil
				}
			}
		}
	}
}

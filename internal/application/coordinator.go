package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/jobrunner/seriesview/internal/domain"
	"github.com/jobrunner/seriesview/internal/ports/output"
)

// DownloadCoordinator fetches every locator of a request into a staging
// directory concurrently.
type DownloadCoordinator struct {
	fs             afero.Fs
	fetcher        output.Fetcher
	baseURL        string
	maxConcurrency int // 0 = one goroutine per locator
	metrics        output.MetricsCollector
	logger         *slog.Logger
}

// NewDownloadCoordinator creates a download coordinator.
func NewDownloadCoordinator(
	fs afero.Fs,
	fetcher output.Fetcher,
	baseURL string,
	maxConcurrency int,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *DownloadCoordinator {
	return &DownloadCoordinator{
		fs:             fs,
		fetcher:        fetcher,
		baseURL:        baseURL,
		maxConcurrency: maxConcurrency,
		metrics:        metrics,
		logger:         logger,
	}
}

// Download stages every locator of req in dir as I00001<ext>, I00002<ext>, ...
// in request order. It returns once every fetch has finished; if any failed
// the error wraps ErrDownloadIncomplete and each *domain.FetchError.
func (c *DownloadCoordinator) Download(ctx context.Context, req domain.DownloadRequest, dir string) ([]domain.StagedFile, error) {
	ext := req.Extension()
	files := make([]domain.StagedFile, len(req.Locators))

	p := pool.New().WithErrors()
	if c.maxConcurrency > 0 {
		p = p.WithMaxGoroutines(c.maxConcurrency)
	}

	for i, locator := range req.Locators {
		index := i + 1
		p.Go(func() error {
			f, err := c.fetchOne(ctx, index, locator, ext, dir)
			if err != nil {
				return err
			}
			files[index-1] = f
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		c.logger.Warn("download incomplete", "dir", dir, "files", len(req.Locators), "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrDownloadIncomplete, err)
	}

	c.logger.Debug("download complete", "dir", dir, "files", len(files))
	return files, nil
}

func (c *DownloadCoordinator) fetchOne(ctx context.Context, index int, locator, ext, dir string) (domain.StagedFile, error) {
	start := time.Now()

	u, err := domain.ResolveLocator(c.baseURL, locator)
	if err != nil {
		return domain.StagedFile{}, &domain.FetchError{Index: index, Locator: locator, Err: err}
	}

	written, err := c.copyTo(ctx, u, filepath.Join(dir, domain.StagedFileName(index, ext)))

	c.metrics.IncFetches(u.Scheme, err == nil)
	c.metrics.ObserveFetchDuration(u.Scheme, time.Since(start))

	if err != nil {
		var fe *domain.FetchError
		if errors.As(err, &fe) {
			fe.Index = index
			fe.Locator = u.String()
			return domain.StagedFile{}, fe
		}
		return domain.StagedFile{}, &domain.FetchError{Index: index, Locator: u.String(), Err: err}
	}

	c.logger.Debug("file staged", "index", index, "locator", u.String(), "bytes", written)

	return domain.StagedFile{
		Index: index,
		Name:  domain.StagedFileName(index, ext),
		Size:  written,
	}, nil
}

func (c *DownloadCoordinator) copyTo(ctx context.Context, u *url.URL, path string) (int64, error) {
	body, err := c.fetcher.Open(ctx, u)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	out, err := c.fs.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}

	written, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, fmt.Errorf("writing %s: %w", path, err)
	}

	return written, nil
}

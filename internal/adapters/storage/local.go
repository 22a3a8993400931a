package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/jobrunner/seriesview/internal/domain"
)

// LocalFetcher fetches file:// locators from a mounted filesystem.
type LocalFetcher struct {
	fs   afero.Fs
	root string
}

// NewLocalFetcher creates a new local fetcher. When root is set, locators
// must resolve to a path below it.
func NewLocalFetcher(fs afero.Fs, root string) *LocalFetcher {
	if root != "" {
		root = filepath.Clean(root)
	}
	return &LocalFetcher{fs: fs, root: root}
}

// Open implements output.Fetcher.
func (f *LocalFetcher) Open(_ context.Context, locator *url.URL) (io.ReadCloser, error) {
	path, err := f.FullPath(locator)
	if err != nil {
		return nil, &domain.FetchError{Locator: locator.String(), Err: err}
	}

	file, err := f.fs.Open(path)
	if err != nil {
		return nil, &domain.FetchError{Locator: locator.String(), Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &domain.FetchError{Locator: locator.String(), Err: err}
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, &domain.FetchError{Locator: locator.String(), Err: fmt.Errorf("%w: %s is a directory", domain.ErrInvalidLocator, path)}
	}

	return file, nil
}

// FullPath returns the local path of a file:// locator.
func (f *LocalFetcher) FullPath(locator *url.URL) (string, error) {
	if locator.Host != "" && locator.Host != "localhost" {
		return "", fmt.Errorf("%w: remote host %q in file locator", domain.ErrInvalidLocator, locator.Host)
	}

	path := filepath.Clean(filepath.FromSlash(locator.Path))
	if f.root == "" {
		return path, nil
	}

	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", domain.ErrInvalidLocator, path, f.root)
	}
	return path, nil
}

// Package storage provides the fetcher adapters for series locators.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"

	"github.com/jobrunner/seriesview/internal/domain"
	"github.com/jobrunner/seriesview/internal/ports/output"
)

// Router implements output.Fetcher by dispatching on the locator scheme.
type Router struct {
	mu       sync.RWMutex
	fetchers map[string]output.Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]output.Fetcher)}
}

// Register routes locators with the given scheme to f.
func (r *Router) Register(scheme string, f output.Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[scheme] = f
}

// Schemes returns the registered schemes in sorted order.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open implements output.Fetcher.
func (r *Router) Open(ctx context.Context, locator *url.URL) (io.ReadCloser, error) {
	r.mu.RLock()
	f, ok := r.fetchers[locator.Scheme]
	r.mu.RUnlock()

	if !ok {
		return nil, &domain.FetchError{
			Locator: locator.String(),
			Err:     fmt.Errorf("%w: %q", domain.ErrUnsupportedScheme, locator.Scheme),
		}
	}
	return f.Open(ctx, locator)
}

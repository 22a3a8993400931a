package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jobrunner/seriesview/internal/domain"
)

// HTTPFetcher fetches http and https locators.
type HTTPFetcher struct {
	client    *http.Client
	username  string
	password  string
	userAgent string
}

// HTTPConfig holds HTTP fetcher configuration.
type HTTPConfig struct {
	Timeout   time.Duration // 0 = no timeout
	Username  string
	Password  string
	UserAgent string
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		username:  cfg.Username,
		password:  cfg.Password,
		userAgent: cfg.UserAgent,
	}
}

// Open implements output.Fetcher. Any status other than 200 is a failure.
func (f *HTTPFetcher) Open(ctx context.Context, locator *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator.String(), nil)
	if err != nil {
		return nil, &domain.FetchError{Locator: locator.String(), Err: err}
	}

	if f.username != "" && f.password != "" {
		req.SetBasicAuth(f.username, f.password)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Locator: locator.String(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &domain.FetchError{
			Locator:    locator.String(),
			StatusCode: resp.StatusCode,
			Err:        domain.ErrUnexpectedStatus,
		}
	}

	return resp.Body, nil
}

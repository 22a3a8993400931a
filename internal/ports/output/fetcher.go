// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
	"net/url"
)

// Fetcher defines the secondary port for fetching one remote file.
type Fetcher interface {
	// Open starts the transfer of the file behind locator and returns its
	// body. A response other than success is reported as an error.
	Open(ctx context.Context, locator *url.URL) (io.ReadCloser, error)
}

// Locator schemes understood by the fetcher adapters.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeS3    = "s3"
	SchemeAzure = "azblob"
	SchemeFile  = "file"
)

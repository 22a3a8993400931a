package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/jobrunner/seriesview/internal/domain"
)

// AzureFetcher fetches azblob://container/blob locators.
type AzureFetcher struct {
	client *azblob.Client
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName      string
	AccountKey       string
	ConnectionString string
}

// NewAzureFetcher creates a new Azure Blob Storage fetcher.
func NewAzureFetcher(cfg AzureConfig) (*AzureFetcher, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
		return &AzureFetcher{client: client}, nil
	}

	serviceURL := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &AzureFetcher{client: client}, nil
}

// Open implements output.Fetcher.
func (f *AzureFetcher) Open(ctx context.Context, locator *url.URL) (io.ReadCloser, error) {
	container, blob, err := splitObjectLocator(locator)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		fe := &domain.FetchError{Locator: locator.String(), Err: err}
		var respErr *azcore.ResponseError
		switch {
		case errors.As(err, &respErr):
			fe.StatusCode = respErr.StatusCode
		case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
			fe.StatusCode = http.StatusNotFound
		}
		return nil, fe
	}
	return resp.Body, nil
}

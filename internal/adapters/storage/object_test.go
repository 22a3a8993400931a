package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobrunner/seriesview/internal/domain"
)

const noSuchKeyXML = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

const accessDeniedXML = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`

func TestS3FetcherOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/scans/series-7/I00001.dcm" {
			_, _ = w.Write([]byte("DICM"))
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Path == "/scans/private.dcm" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(accessDeniedXML))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(noSuchKeyXML))
	}))
	defer srv.Close()

	f, err := NewS3Fetcher(context.Background(), S3Config{
		Region:          "eu-central-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Fetcher() error = %v", err)
	}

	body, err := f.Open(context.Background(), mustParse(t, "s3://scans/series-7/I00001.dcm"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "DICM" {
		t.Errorf("body = %q, want %q", data, "DICM")
	}

	_, err = f.Open(context.Background(), mustParse(t, "s3://scans/missing.dcm"))
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Open() error = %v, want FetchError", err)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", fe.StatusCode, http.StatusNotFound)
	}

	_, err = f.Open(context.Background(), mustParse(t, "s3://scans/private.dcm"))
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusForbidden {
		t.Errorf("Open() error = %v, want FetchError with status 403", err)
	}

	_, err = f.Open(context.Background(), mustParse(t, "s3://scans"))
	if !errors.Is(err, domain.ErrInvalidLocator) {
		t.Errorf("Open() error = %v, want ErrInvalidLocator", err)
	}
}

func TestAzureFetcherOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/devstoreaccount1/scans/series-7/I00001.dcm" {
			_, _ = w.Write([]byte("DICM"))
			return
		}
		if r.URL.Path == "/devstoreaccount1/scans/private.dcm" {
			w.Header().Set("x-ms-error-code", "AuthorizationFailure")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := NewAzureFetcher(AzureConfig{
		ConnectionString: "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
			"AccountKey=dGVzdGtleQ==;BlobEndpoint=" + srv.URL + "/devstoreaccount1;",
	})
	if err != nil {
		t.Fatalf("NewAzureFetcher() error = %v", err)
	}

	body, err := f.Open(context.Background(), mustParse(t, "azblob://scans/series-7/I00001.dcm"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "DICM" {
		t.Errorf("body = %q, want %q", data, "DICM")
	}

	_, err = f.Open(context.Background(), mustParse(t, "azblob://scans/missing.dcm"))
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Open() error = %v, want FetchError", err)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", fe.StatusCode, http.StatusNotFound)
	}

	_, err = f.Open(context.Background(), mustParse(t, "azblob://scans/private.dcm"))
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusForbidden {
		t.Errorf("Open() error = %v, want FetchError with status 403", err)
	}
}

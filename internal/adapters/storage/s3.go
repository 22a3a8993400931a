package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jobrunner/seriesview/internal/domain"
)

// S3Fetcher fetches s3://bucket/key locators.
type S3Fetcher struct {
	client *s3.Client
}

// S3Config holds S3 configuration.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Fetcher creates a new S3 fetcher.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	var opts []func(*config.LoadOptions) error

	opts = append(opts, config.WithRegion(cfg.Region))

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Fetcher{client: s3.NewFromConfig(awsCfg, clientOpts...)}, nil
}

// Open implements output.Fetcher.
func (f *S3Fetcher) Open(ctx context.Context, locator *url.URL) (io.ReadCloser, error) {
	bucket, key, err := splitObjectLocator(locator)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		fe := &domain.FetchError{Locator: locator.String(), Err: err}
		var respErr *awshttp.ResponseError
		var nsk *types.NoSuchKey
		switch {
		case errors.As(err, &respErr):
			fe.StatusCode = respErr.HTTPStatusCode()
		case errors.As(err, &nsk):
			fe.StatusCode = http.StatusNotFound
		}
		return nil, fe
	}
	return resp.Body, nil
}

// splitObjectLocator splits scheme://container/object/path into its
// container and object name.
func splitObjectLocator(locator *url.URL) (string, string, error) {
	container := locator.Host
	object := strings.TrimPrefix(locator.Path, "/")
	if container == "" || object == "" {
		return "", "", &domain.FetchError{
			Locator: locator.String(),
			Err:     domain.ErrInvalidLocator,
		}
	}
	return container, object, nil
}

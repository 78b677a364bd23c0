// Package minio backs the research archive: every accepted run is written
// to object storage as a JSON document, fetchable by correlation ID and
// shareable through presigned links.
package minio

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

const connectTimeout = 10 * time.Second

// ObjectAPI is the slice of the SDK the archive uses. GetObject returns a
// plain reader because the SDK's concrete object handle cannot be
// constructed outside a live connection.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error)
}

type sdkAPI struct {
	c *minio.Client
}

func (a sdkAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return a.c.BucketExists(ctx, bucket)
}

func (a sdkAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return a.c.MakeBucket(ctx, bucket, opts)
}

func (a sdkAPI) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.c.PutObject(ctx, bucket, key, r, size, opts)
}

func (a sdkAPI) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := a.c.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (a sdkAPI) PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error) {
	return a.c.PresignedGetObject(ctx, bucket, key, expiry, params)
}

// Client wraps the object-storage connection for the archive bucket.
type Client struct {
	api    ObjectAPI
	cfg    config.MinIOConfig
	logger logging.Logger
}

// NewClient connects to the store and verifies it answers before returning.
func NewClient(cfg config.MinIOConfig, log logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "minio needs an endpoint")
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "minio needs an archive bucket")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "creating minio client")
	}

	c := &Client{
		api:    sdkAPI{c: mc},
		cfg:    cfg,
		logger: log.Named("minio"),
	}

	// An existence probe reaches the server regardless of whether the
	// bucket has been created yet.
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := c.api.BucketExists(ctx, cfg.Bucket); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "connecting to minio")
	}

	c.logger.Info("minio client connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL),
	)
	return c, nil
}

// EnsureBucket creates the archive bucket when missing. Workers call it
// once at startup.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "checking archive bucket")
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "creating archive bucket")
	}
	c.logger.Info("archive bucket created", logging.String("bucket", c.cfg.Bucket))
	return nil
}

// HealthCheck reports whether the store is reachable and the archive
// bucket exists.
func (c *Client) HealthCheck(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "minio health check failed")
	}
	if !exists {
		return errors.Newf(errors.CodeStorageError, "archive bucket %q is missing", c.cfg.Bucket)
	}
	return nil
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string { return c.cfg.Bucket }

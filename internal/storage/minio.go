package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shipslog/backend/internal/config"
)

// Client provides read access to stored media (streaming and presigned
// URLs) via minio-go, which handles range requests better than the upload
// SDK.
type Client struct {
	client *minio.Client
	bucket string
}

func NewClient(cfg *config.Config) (*Client, error) {
	// minio-go expects host:port without a scheme.
	endpoint := cfg.S3Endpoint
	useSSL := strings.HasPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{client: client, bucket: cfg.S3Bucket}, nil
}

// ParseLocator splits an "s3://bucket/key" locator.
func ParseLocator(locator string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(locator, "s3://")
	if trimmed == locator {
		return "", "", fmt.Errorf("not an object storage locator: %s", locator)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed locator: %s", locator)
	}
	return parts[0], parts[1], nil
}

// Fetch streams a stored object.
func (c *Client) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	_, key, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return obj, nil
}

// PresignURL returns a time-limited download URL for a stored object.
func (c *Client) PresignURL(ctx context.Context, locator string, expiry time.Duration) (string, error) {
	_, key, err := ParseLocator(locator)
	if err != nil {
		return "", err
	}
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// EnsureBucket creates the bucket if it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
		}
	}
	return nil
}

// Ping verifies the storage backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shipslog/backend/internal/config"
	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/ffmpeg"
)

// S3Storage uploads media files to S3-compatible object storage. Locators
// are "s3://bucket/key" URLs.
type S3Storage struct {
	client      *s3.Client
	bucket      string
	audioPrefix string
	videoPrefix string
	retry       *apperrors.RetryConfig
}

func NewS3Storage(cfg *config.Config) (*S3Storage, error) {
	opts := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePath, // required for MinIO
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return &S3Storage{
		client:      s3.New(opts),
		bucket:      cfg.S3Bucket,
		audioPrefix: cfg.S3AudioPrefix,
		videoPrefix: cfg.S3VideoPrefix,
		retry:       apperrors.StorageRetryConfig(),
	}, nil
}

func (s *S3Storage) keyFor(path string) string {
	prefix := s.audioPrefix
	if ffmpeg.IsVideoFile(path) {
		prefix = s.videoPrefix
	}
	return ObjectKey(prefix, path, time.Now())
}

func (s *S3Storage) Store(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.FileNotFound(path)
		}
		return "", apperrors.StorageError(fmt.Sprintf("failed to stat %s", path)).WithCause(err)
	}

	key := s.keyFor(path)

	// Short inner retry for upload blips; the task scheduler owns the
	// real budget.
	err = apperrors.Retry(ctx, s.retry, func(ctx context.Context) error {
		file, err := os.Open(path)
		if err != nil {
			return apperrors.StorageError(fmt.Sprintf("failed to open %s", path)).WithCause(err)
		}
		defer file.Close()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          file,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(ContentType(path)),
		})
		if err != nil {
			return apperrors.StorageError(fmt.Sprintf("failed to upload %s", key)).WithCause(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

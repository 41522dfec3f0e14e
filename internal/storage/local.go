package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/shipslog/backend/internal/errors"
)

// LocalStorage copies media files into a date-partitioned directory tree on
// local disk. Locators are "file://" URLs.
type LocalStorage struct {
	baseDir string
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory %s: %w", baseDir, err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

func (s *LocalStorage) Store(ctx context.Context, path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.FileNotFound(path)
		}
		return "", apperrors.StorageError(fmt.Sprintf("failed to open %s", path)).WithCause(err)
	}
	defer src.Close()

	key := ObjectKey("media", path, time.Now())
	dstPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return "", apperrors.StorageError("failed to create storage directory").WithCause(err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", apperrors.StorageError(fmt.Sprintf("failed to create %s", dstPath)).WithCause(err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", apperrors.StorageError("failed to copy media file").WithCause(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", apperrors.StorageError("failed to flush media file").WithCause(err)
	}

	return "file://" + dstPath, nil
}

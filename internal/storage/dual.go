package storage

import (
	"context"
	"strings"
)

// DualStorage writes to local disk and object storage. The remote locator
// wins when both succeed; local keeps a fallback copy for reprocessing.
type DualStorage struct {
	local  Storer
	remote Storer
}

func NewDualStorage(local, remote Storer) *DualStorage {
	return &DualStorage{local: local, remote: remote}
}

func (s *DualStorage) Store(ctx context.Context, path string) (string, error) {
	if _, err := s.local.Store(ctx, path); err != nil {
		return "", err
	}
	locator, err := s.remote.Store(ctx, path)
	if err != nil {
		return "", err
	}
	return locator, nil
}

// IsRemoteLocator reports whether a locator points at object storage.
func IsRemoteLocator(locator string) bool {
	return strings.HasPrefix(locator, "s3://")
}

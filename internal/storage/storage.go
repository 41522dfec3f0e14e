package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shipslog/backend/internal/config"
)

// Storer persists a media file durably and returns a locator for it. The
// locator is opaque to the pipeline; it is recorded on the item and handed
// back to API consumers.
type Storer interface {
	Store(ctx context.Context, path string) (string, error)
}

// ObjectKey builds a date-partitioned key: prefix/YYYY/MM/DD/<id><ext>.
// The short random ID keeps keys collision-free without leaking filenames.
func ObjectKey(prefix, sourcePath string, now time.Time) string {
	prefix = strings.TrimSuffix(prefix, "/")
	id := uuid.New().String()[:8]
	ext := strings.ToLower(filepath.Ext(sourcePath))
	return fmt.Sprintf("%s/%s/%s%s", prefix, now.UTC().Format("2006/01/02"), id, ext)
}

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

// ContentType maps a file extension to its MIME type, defaulting to
// application/octet-stream.
func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// NewFromConfig builds the Storer for the configured storage mode.
func NewFromConfig(cfg *config.Config) (Storer, error) {
	switch cfg.StorageMode {
	case "local", "":
		return NewLocalStorage(cfg.LocalMedia)
	case "s3":
		return NewS3Storage(cfg)
	case "local+s3":
		local, err := NewLocalStorage(cfg.LocalMedia)
		if err != nil {
			return nil, err
		}
		remote, err := NewS3Storage(cfg)
		if err != nil {
			return nil, err
		}
		return NewDualStorage(local, remote), nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
}

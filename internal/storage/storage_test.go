package storage

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shipslog/backend/internal/config"
)

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
	key := ObjectKey("audio/", "/uploads/Entry One.MP3", now)

	pattern := regexp.MustCompile(`^audio/2026/03/14/[0-9a-f]{8}\.mp3$`)
	if !pattern.MatchString(key) {
		t.Errorf("key = %q, want match for %s", key, pattern)
	}
}

func TestObjectKey_Unique(t *testing.T) {
	now := time.Now()
	a := ObjectKey("audio", "/tmp/x.mp3", now)
	b := ObjectKey("audio", "/tmp/x.mp3", now)
	if a == b {
		t.Error("keys for identical inputs should still differ")
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.mp3", "audio/mpeg"},
		{"a.WAV", "audio/wav"},
		{"a.mp4", "video/mp4"},
		{"a.xyz", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentType(tt.path); got != tt.want {
			t.Errorf("ContentType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLocalStorage_Store(t *testing.T) {
	baseDir := t.TempDir()
	store, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	src := filepath.Join(t.TempDir(), "entry.mp3")
	if err := os.WriteFile(src, []byte("audio bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	locator, err := store.Store(context.Background(), src)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.HasPrefix(locator, "file://") {
		t.Fatalf("locator = %q, want file:// prefix", locator)
	}

	stored := strings.TrimPrefix(locator, "file://")
	data, err := os.ReadFile(stored)
	if err != nil {
		t.Fatalf("read stored copy: %v", err)
	}
	if string(data) != "audio bytes" {
		t.Errorf("stored content = %q", data)
	}

	// Original must survive; the pipeline still needs it for transcription.
	if _, err := os.Stat(src); err != nil {
		t.Error("source file was removed by Store")
	}
}

func TestLocalStorage_MissingSource(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Store(context.Background(), "/nonexistent/entry.mp3"); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestParseLocator(t *testing.T) {
	bucket, key, err := ParseLocator("s3://logs/audio/2026/03/14/abcd1234.mp3")
	if err != nil {
		t.Fatalf("ParseLocator: %v", err)
	}
	if bucket != "logs" || key != "audio/2026/03/14/abcd1234.mp3" {
		t.Errorf("got %q / %q", bucket, key)
	}

	for _, bad := range []string{"file:///tmp/x", "s3://", "s3://bucketonly", ""} {
		if _, _, err := ParseLocator(bad); err == nil {
			t.Errorf("ParseLocator(%q) should fail", bad)
		}
	}
}

func TestNewFromConfig_Modes(t *testing.T) {
	base := t.TempDir()

	local, err := NewFromConfig(&config.Config{StorageMode: "local", LocalMedia: base})
	if err != nil {
		t.Fatalf("local mode: %v", err)
	}
	if _, ok := local.(*LocalStorage); !ok {
		t.Errorf("local mode built %T", local)
	}

	if _, err := NewFromConfig(&config.Config{StorageMode: "tape"}); err == nil {
		t.Error("unknown mode should fail")
	}
}

package chunker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeProbe reports a fixed duration and writes tiny placeholder files for
// extracted segments. failAt >= 0 makes that extraction call fail.
type fakeProbe struct {
	duration float64
	failAt   int
	calls    int
}

func (p *fakeProbe) Duration(ctx context.Context, path string) (float64, error) {
	return p.duration, nil
}

func (p *fakeProbe) ExtractSegment(ctx context.Context, src, dst string, startSec, durationSec float64) error {
	defer func() { p.calls++ }()
	if p.failAt >= 0 && p.calls == p.failAt {
		return errors.New("ffmpeg exited with status 1")
	}
	return os.WriteFile(dst, []byte(fmt.Sprintf("segment %f+%f", startSec, durationSec)), 0o644)
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entry.mp3")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestChunkDuration(t *testing.T) {
	c := New(&fakeProbe{failAt: -1}, &Config{MaxChunkBytes: 20 * 1024 * 1024, MaxChunkSeconds: 600})

	tests := []struct {
		name     string
		size     int64
		duration float64
		want     float64
	}{
		// 1 MB/min: size bound is 20MB/(1MB/60s)*0.9 = 1080s, caller max wins.
		{"low bitrate uses caller max", 60 * 1024 * 1024, 3600, 600},
		// 1 MB/s: size bound is 20*0.9 = 18s, floored at 60.
		{"high bitrate floors at minimum", 3600 * 1024 * 1024, 3600, 60},
		// 40 KB/s: size bound is 20MB/40KB*0.9 = 460.8s, under caller max.
		{"size bound wins when tighter", 40 * 1024 * 3600, 3600, float64(20*1024*1024) / (40 * 1024) * 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ChunkDuration(tt.size, tt.duration)
			if got != tt.want {
				t.Errorf("ChunkDuration(%d, %f) = %f, want %f", tt.size, tt.duration, got, tt.want)
			}
		})
	}
}

func TestChunkDuration_ConfiguredFloor(t *testing.T) {
	c := New(&fakeProbe{failAt: -1}, &Config{
		MaxChunkBytes:   20 * 1024 * 1024,
		MaxChunkSeconds: 600,
		MinChunkSeconds: 120,
	})

	// 1 MB/s: the size bound of 18s sits under the configured floor.
	if got := c.ChunkDuration(3600*1024*1024, 3600); got != 120 {
		t.Errorf("ChunkDuration = %f, want the configured floor of 120", got)
	}
}

func TestSplit_SmallFilePassesThrough(t *testing.T) {
	probe := &fakeProbe{duration: 120, failAt: -1}
	c := New(probe, &Config{MaxChunkBytes: 1024 * 1024, MaxChunkSeconds: 600})

	path := writeTempFile(t, 1000)
	chunks, err := c.Split(context.Background(), path)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Path != path {
		t.Errorf("small file should come back as the original path")
	}
	if probe.calls != 0 {
		t.Errorf("no extraction should happen for a small file, got %d calls", probe.calls)
	}

	// Cleanup must not delete the original.
	Cleanup(chunks)
	if _, err := os.Stat(path); err != nil {
		t.Error("cleanup removed the original file")
	}
}

func TestSplit_LargeFileProducesOrderedChunks(t *testing.T) {
	// 10 KB over 100 seconds with a 1 KB chunk limit. Size bound gives
	// 9s per chunk, floored to 60s, so ceil(100/60) = 2 chunks.
	probe := &fakeProbe{duration: 100, failAt: -1}
	c := New(probe, &Config{MaxChunkBytes: 1024, MaxChunkSeconds: 600})

	path := writeTempFile(t, 10*1024)
	chunks, err := c.Split(context.Background(), path)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	defer Cleanup(chunks)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if _, err := os.Stat(chunk.Path); err != nil {
			t.Errorf("chunk %d file missing: %v", i, err)
		}
	}
	if chunks[0].Start != 0 || chunks[1].Start != 60 {
		t.Errorf("starts = %f, %f, want 0, 60", chunks[0].Start, chunks[1].Start)
	}
	if chunks[1].Duration != 40 {
		t.Errorf("final chunk duration = %f, want the 40s remainder", chunks[1].Duration)
	}
}

func TestSplit_ExtractionFailureCleansUp(t *testing.T) {
	// Fail on the second of three extractions.
	probe := &fakeProbe{duration: 150, failAt: 1}
	c := New(probe, &Config{MaxChunkBytes: 1024, MaxChunkSeconds: 600})

	path := writeTempFile(t, 10*1024)
	chunks, err := c.Split(context.Background(), path)
	if err == nil {
		t.Fatal("expected extraction failure")
	}
	if chunks != nil {
		t.Error("failed split should return no chunks")
	}

	// The partial chunk written before the failure must be gone.
	entries, globErr := filepath.Glob(filepath.Join(os.TempDir(), "chunks-*", "chunk_*"))
	if globErr == nil && len(entries) != 0 {
		t.Errorf("partial chunks left behind: %v", entries)
	}
}

func TestSplit_MissingFile(t *testing.T) {
	c := New(&fakeProbe{failAt: -1}, nil)
	if _, err := c.Split(context.Background(), "/nonexistent/entry.mp3"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	probe := &fakeProbe{duration: 100, failAt: -1}
	c := New(probe, &Config{MaxChunkBytes: 1024, MaxChunkSeconds: 600})

	path := writeTempFile(t, 10*1024)
	chunks, err := c.Split(context.Background(), path)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	Cleanup(chunks)
	Cleanup(chunks)

	for _, chunk := range chunks {
		if _, err := os.Stat(chunk.Path); !os.IsNotExist(err) {
			t.Errorf("chunk %d not removed", chunk.Index)
		}
	}
}

func TestRecombine_OrderIndependent(t *testing.T) {
	parts := []TranscriptPart{
		{Index: 2, Text: "part two"},
		{Index: 0, Text: "part zero"},
		{Index: 1, Text: " part one "},
	}
	got := Recombine(parts)
	want := "part zero part one part two"
	if got != want {
		t.Errorf("Recombine = %q, want %q", got, want)
	}
}

func TestRecombine_SkipsEmptyParts(t *testing.T) {
	parts := []TranscriptPart{
		{Index: 0, Text: "hello"},
		{Index: 1, Text: "   "},
		{Index: 2, Text: "world"},
	}
	if got := Recombine(parts); got != "hello world" {
		t.Errorf("Recombine = %q, want %q", got, "hello world")
	}
}

func TestRecombine_Empty(t *testing.T) {
	if got := Recombine(nil); got != "" {
		t.Errorf("Recombine(nil) = %q, want empty", got)
	}
}

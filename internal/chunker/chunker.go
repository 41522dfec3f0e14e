package chunker

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/logger"
)

const (
	// Safety margin applied to the size-derived chunk duration so encoder
	// overhead never pushes a chunk over the downstream limit.
	sizeMargin = 0.9

	// MinChunkSeconds is the hard floor on chunk duration.
	MinChunkSeconds = 60
)

// MediaProbe abstracts the ffmpeg/ffprobe calls the chunker needs.
type MediaProbe interface {
	Duration(ctx context.Context, path string) (float64, error)
	ExtractSegment(ctx context.Context, src, dst string, startSec, durationSec float64) error
}

// Chunk is one piece of a split file. Temp chunks are deleted by Cleanup;
// a single-chunk result points at the original file and is left alone.
type Chunk struct {
	Index    int
	Path     string
	Start    float64
	Duration float64
	temp     bool
}

// Config bounds chunk sizing.
type Config struct {
	MaxChunkBytes   int64 // downstream request size limit
	MaxChunkSeconds int   // caller's preferred chunk duration
	MinChunkSeconds int   // hard floor, defaults to MinChunkSeconds
}

// Chunker splits oversized media files into transcribable pieces.
type Chunker struct {
	probe         MediaProbe
	maxChunkBytes int64
	maxChunkSecs  int
	minChunkSecs  int
	log           *logger.Logger
}

func New(probe MediaProbe, config *Config) *Chunker {
	if config == nil {
		config = &Config{}
	}
	maxBytes := config.MaxChunkBytes
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	maxSecs := config.MaxChunkSeconds
	if maxSecs <= 0 {
		maxSecs = 600
	}
	minSecs := config.MinChunkSeconds
	if minSecs <= 0 {
		minSecs = MinChunkSeconds
	}
	return &Chunker{
		probe:         probe,
		maxChunkBytes: maxBytes,
		maxChunkSecs:  maxSecs,
		minChunkSecs:  minSecs,
		log:           logger.Default().WithComponent("chunker"),
	}
}

// ChunkDuration computes how long each chunk should be for a file of the
// given size and duration. The size-derived bound keeps every chunk under
// the byte limit with margin; the result never drops below the floor.
func (c *Chunker) ChunkDuration(sizeBytes int64, durationSecs float64) float64 {
	if durationSecs <= 0 || sizeBytes <= 0 {
		return float64(c.maxChunkSecs)
	}

	bytesPerSecond := float64(sizeBytes) / durationSecs
	bySize := float64(c.maxChunkBytes) / bytesPerSecond * sizeMargin

	chunkSecs := math.Min(bySize, float64(c.maxChunkSecs))
	if chunkSecs < float64(c.minChunkSecs) {
		chunkSecs = float64(c.minChunkSecs)
	}
	return chunkSecs
}

// Split cuts the file into chunks small enough to transcribe. Files already
// under the byte limit come back as a single chunk referencing the original
// path. On any extraction failure the partial chunks are deleted before the
// error is returned.
func (c *Chunker) Split(ctx context.Context, path string) ([]Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.FileNotFound(path)
		}
		return nil, apperrors.ChunkingError(fmt.Sprintf("failed to stat %s", path)).WithCause(err)
	}

	if info.Size() <= c.maxChunkBytes {
		return []Chunk{{Index: 0, Path: path}}, nil
	}

	durationSecs, err := c.probe.Duration(ctx, path)
	if err != nil {
		return nil, apperrors.ChunkingError("failed to probe media duration").WithCause(err)
	}
	if durationSecs <= 0 {
		return nil, apperrors.ChunkingError(fmt.Sprintf("probe reported non-positive duration for %s", path))
	}

	chunkSecs := c.ChunkDuration(info.Size(), durationSecs)
	numChunks := int(math.Ceil(durationSecs / chunkSecs))

	c.log.Info(ctx, "splitting media file", map[string]interface{}{
		"path":          filepath.Base(path),
		"size_bytes":    info.Size(),
		"duration_secs": durationSecs,
		"chunk_secs":    chunkSecs,
		"num_chunks":    numChunks,
	})

	tmpDir, err := os.MkdirTemp("", "chunks-")
	if err != nil {
		return nil, apperrors.ChunkingError("failed to create chunk directory").WithCause(err)
	}

	ext := filepath.Ext(path)
	chunks := make([]Chunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := float64(i) * chunkSecs
		dur := math.Min(chunkSecs, durationSecs-start)
		dst := filepath.Join(tmpDir, fmt.Sprintf("chunk_%03d%s", i, ext))

		if err := c.probe.ExtractSegment(ctx, path, dst, start, dur); err != nil {
			Cleanup(chunks)
			os.RemoveAll(tmpDir)
			return nil, apperrors.ChunkingError(fmt.Sprintf("failed to extract chunk %d of %d", i, numChunks)).WithCause(err)
		}
		chunks = append(chunks, Chunk{Index: i, Path: dst, Start: start, Duration: dur, temp: true})
	}

	return chunks, nil
}

// Cleanup deletes temp chunk files. Chunks pointing at the original source
// are left in place. Safe to call more than once.
func Cleanup(chunks []Chunk) {
	dirs := make(map[string]struct{})
	for _, chunk := range chunks {
		if !chunk.temp {
			continue
		}
		os.Remove(chunk.Path)
		dirs[filepath.Dir(chunk.Path)] = struct{}{}
	}
	for dir := range dirs {
		os.Remove(dir)
	}
}

// TranscriptPart is one chunk's transcription result.
type TranscriptPart struct {
	Index int
	Text  string
}

// Recombine joins chunk transcripts in index order with single spaces,
// regardless of the order results arrived in. Empty parts are skipped.
func Recombine(parts []TranscriptPart) string {
	sorted := make([]TranscriptPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	texts := make([]string, 0, len(sorted))
	for _, part := range sorted {
		text := strings.TrimSpace(part.Text)
		if text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, " ")
}

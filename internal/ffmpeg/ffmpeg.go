package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".m4v":  true,
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
}

// IsVideoFile reports whether the path has a recognized video extension.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsAudioFile reports whether the path has a recognized audio extension.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions returns every extension the pipeline accepts.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(videoExtensions)+len(audioExtensions))
	for ext := range audioExtensions {
		exts = append(exts, ext)
	}
	for ext := range videoExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// FFmpeg shells out to the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

func New() *FFmpeg {
	return &FFmpeg{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
}

// Available reports whether both binaries can be found on PATH.
func (f *FFmpeg) Available() bool {
	if _, err := exec.LookPath(f.ffmpegPath); err != nil {
		return false
	}
	if _, err := exec.LookPath(f.ffprobePath); err != nil {
		return false
	}
	return true
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the media duration in seconds as reported by ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var probe probeFormat
	if err := json.Unmarshal(stdout.Bytes(), &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported unusable duration %q: %w", probe.Format.Duration, err)
	}
	return duration, nil
}

// ExtractSegment copies a time range out of the source without re-encoding.
func (f *FFmpeg) ExtractSegment(ctx context.Context, src, dst string, startSec, durationSec float64) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-y",
		"-v", "error",
		"-ss", formatSeconds(startSec),
		"-i", src,
		"-t", formatSeconds(durationSec),
		"-acodec", "copy",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg segment extraction failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ExtractAudio pulls the audio track out of a video file as 16 kHz mono
// 16-bit PCM, the format the transcription service handles best.
func (f *FFmpeg) ExtractAudio(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-y",
		"-v", "error",
		"-i", src,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extraction failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', 3, 64)
}

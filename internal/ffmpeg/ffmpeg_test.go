package ffmpeg

import "testing"

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/media/log.mp4", true},
		{"/media/log.MOV", true},
		{"/media/log.mkv", true},
		{"/media/log.mp3", false},
		{"/media/log.wav", false},
		{"/media/log", false},
		{"/media/log.txt", false},
	}
	for _, tt := range tests {
		if got := IsVideoFile(tt.path); got != tt.want {
			t.Errorf("IsVideoFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIsAudioFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/media/log.mp3", true},
		{"/media/log.M4A", true},
		{"/media/log.flac", true},
		{"/media/log.mp4", false},
		{"/media/log.pdf", false},
	}
	for _, tt := range tests {
		if got := IsAudioFile(tt.path); got != tt.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		secs float64
		want string
	}{
		{0, "0.000"},
		{60, "60.000"},
		{123.456789, "123.457"},
	}
	for _, tt := range tests {
		if got := formatSeconds(tt.secs); got != tt.want {
			t.Errorf("formatSeconds(%f) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

package convert

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var stereo48k = Format{SampleRate: 48000, Channels: 2}

func writeRaw(t *testing.T, dir, name string, samples []int16, extra ...byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := append(audio.SamplesToBytes(samples), extra...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write raw segment: %v", err)
	}
	return path
}

// fakeFFmpeg writes a shell script standing in for ffmpeg
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converters are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write fake ffmpeg: %v", err)
	}
	return path
}

func TestWAVPath(t *testing.T) {
	if got := WAVPath("recordings/useralice-1.pcm"); got != "recordings/useralice-1.wav" {
		t.Errorf("Unexpected WAV path %s", got)
	}
}

func TestNativeConvert(t *testing.T) {
	dir := t.TempDir()
	samples := []int16{1, -1, 2, -2, 3, -3}
	rawPath := writeRaw(t, dir, "useralice-1700000000000.pcm", samples, 0x7f) // trailing partial frame is dropped

	converter := NewNative(testLogger(), stereo48k)
	wavPath, err := converter.Convert(context.Background(), rawPath)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if wavPath != WAVPath(rawPath) {
		t.Errorf("Expected %s, got %s", WAVPath(rawPath), wavPath)
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		t.Fatalf("Failed to read WAV: %v", err)
	}

	decoded, rate, channels, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != 48000 || channels != 2 {
		t.Errorf("Expected 48000 Hz stereo, got %d Hz %d channels", rate, channels)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}

	// The converter leaves the raw file alone
	if _, err := os.Stat(rawPath); err != nil {
		t.Errorf("Expected raw file to remain, got %v", err)
	}
}

func TestNativeConvertErrors(t *testing.T) {
	dir := t.TempDir()
	converter := NewNative(testLogger(), stereo48k)

	tests := []struct {
		name    string
		rawPath string
		ctx     func() context.Context
	}{
		{
			name:    "missing file",
			rawPath: filepath.Join(dir, "missing.pcm"),
			ctx:     context.Background,
		},
		{
			name:    "no complete frame",
			rawPath: writeRaw(t, dir, "short.pcm", []int16{1}),
			ctx:     context.Background,
		},
		{
			name:    "cancelled context",
			rawPath: writeRaw(t, dir, "cancelled.pcm", []int16{1, 2}),
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := converter.Convert(tt.ctx(), tt.rawPath)

			var convErr *ConversionError
			if !errors.As(err, &convErr) {
				t.Fatalf("Expected *ConversionError, got %v", err)
			}
			if convErr.ExitCode != -1 {
				t.Errorf("Expected exit code -1, got %d", convErr.ExitCode)
			}
			if _, statErr := os.Stat(WAVPath(tt.rawPath)); !os.IsNotExist(statErr) {
				t.Error("Expected no WAV file to be left behind")
			}
		})
	}
}

func TestFFmpegConvertSuccess(t *testing.T) {
	bin := fakeFFmpeg(t, `for a; do last=$a; done; printf RIFF > "$last"`)
	rawPath := writeRaw(t, t.TempDir(), "useralice-1.pcm", []int16{1, 2})

	converter := NewFFmpeg(testLogger(), bin, stereo48k, 5*time.Second)
	wavPath, err := converter.Convert(context.Background(), rawPath)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	data, err := os.ReadFile(wavPath)
	if err != nil || string(data) != "RIFF" {
		t.Errorf("Expected ffmpeg output at %s, got %q (%v)", wavPath, data, err)
	}
}

func TestFFmpegConvertExitCode(t *testing.T) {
	bin := fakeFFmpeg(t, `for a; do last=$a; done; printf partial > "$last"; exit 3`)
	rawPath := writeRaw(t, t.TempDir(), "useralice-1.pcm", []int16{1, 2})

	converter := NewFFmpeg(testLogger(), bin, stereo48k, 5*time.Second)
	_, err := converter.Convert(context.Background(), rawPath)

	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("Expected *ConversionError, got %v", err)
	}
	if convErr.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", convErr.ExitCode)
	}
	if _, statErr := os.Stat(WAVPath(rawPath)); !os.IsNotExist(statErr) {
		t.Error("Expected partial WAV to be deleted")
	}
}

func TestFFmpegConvertTimeout(t *testing.T) {
	bin := fakeFFmpeg(t, `exec sleep 5`)
	rawPath := writeRaw(t, t.TempDir(), "useralice-1.pcm", []int16{1, 2})

	converter := NewFFmpeg(testLogger(), bin, stereo48k, 100*time.Millisecond)

	start := time.Now()
	_, err := converter.Convert(context.Background(), rawPath)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Timeout was not enforced, took %v", time.Since(start))
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	rawPath := writeRaw(t, t.TempDir(), "useralice-1.pcm", []int16{1, 2})
	converter := NewFFmpeg(testLogger(), filepath.Join(t.TempDir(), "no-such-ffmpeg"), stereo48k, time.Second)

	_, err := converter.Convert(context.Background(), rawPath)

	var convErr *ConversionError
	if !errors.As(err, &convErr) || convErr.ExitCode != -1 {
		t.Fatalf("Expected *ConversionError with exit code -1, got %v", err)
	}
}

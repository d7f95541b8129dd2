package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
)

// Converter turns a raw s16le segment file into a WAV file
type Converter interface {
	Convert(ctx context.Context, rawPath string) (string, error)
}

// ConversionError reports a failed conversion. ExitCode is -1 when no process exit code exists.
type ConversionError struct {
	RawPath  string
	ExitCode int
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of %s failed (exit code %d): %v", e.RawPath, e.ExitCode, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Format describes the raw PCM layout
type Format struct {
	SampleRate int
	Channels   int
}

// WAVPath returns the WAV path derived from a raw segment path
func WAVPath(rawPath string) string {
	return strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + ".wav"
}

// FFmpeg converts segments by running the ffmpeg binary
type FFmpeg struct {
	logger  *slog.Logger
	path    string
	format  Format
	timeout time.Duration
}

// NewFFmpeg creates an ffmpeg-backed converter
func NewFFmpeg(logger *slog.Logger, ffmpegPath string, format Format, timeout time.Duration) *FFmpeg {
	return &FFmpeg{
		logger:  logger,
		path:    ffmpegPath,
		format:  format,
		timeout: timeout,
	}
}

// Convert runs ffmpeg; the result is judged only by its exit code
func (f *FFmpeg) Convert(ctx context.Context, rawPath string) (string, error) {
	wavPath := WAVPath(rawPath)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprint(f.format.SampleRate),
		"-ac", fmt.Sprint(f.format.Channels),
		"-i", rawPath,
		"-y", wavPath,
	}

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stderr = &stderr

	startTime := time.Now()
	if err := cmd.Run(); err != nil {
		removeQuietly(wavPath)
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		f.logger.Error("Error converting PCM to WAV",
			slog.String("raw_path", rawPath),
			slog.Int("exit_code", exitCode),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return "", &ConversionError{RawPath: rawPath, ExitCode: exitCode, Err: err}
	}

	f.logger.Debug("Converted segment",
		slog.String("wav_path", wavPath),
		slog.Duration("duration", time.Since(startTime)),
	)
	return wavPath, nil
}

// Native wraps raw PCM in a WAV header in process
type Native struct {
	logger *slog.Logger
	format Format
}

// NewNative creates an in-process converter
func NewNative(logger *slog.Logger, format Format) *Native {
	return &Native{logger: logger, format: format}
}

// Convert writes the WAV header followed by the raw payload
func (n *Native) Convert(ctx context.Context, rawPath string) (string, error) {
	wavPath := WAVPath(rawPath)

	if err := ctx.Err(); err != nil {
		return "", &ConversionError{RawPath: rawPath, ExitCode: -1, Err: err}
	}

	if err := n.convert(rawPath, wavPath); err != nil {
		removeQuietly(wavPath)
		return "", &ConversionError{RawPath: rawPath, ExitCode: -1, Err: err}
	}

	n.logger.Debug("Converted segment", slog.String("wav_path", wavPath))
	return wavPath, nil
}

func (n *Native) convert(rawPath, wavPath string) error {
	in, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("failed to open raw segment: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat raw segment: %w", err)
	}

	// Drop a trailing partial frame
	frameBytes := int64(n.format.Channels * 2)
	dataSize := info.Size() - info.Size()%frameBytes
	if dataSize <= 0 {
		return fmt.Errorf("raw segment holds no complete frames")
	}

	out, err := os.Create(wavPath)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}

	if err := audio.WriteWAVHeader(out, uint32(dataSize), n.format.SampleRate, n.format.Channels); err != nil {
		out.Close()
		return err
	}

	if _, err := io.CopyN(out, in, dataSize); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy PCM payload: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file: %w", err)
	}
	return nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("Failed to delete file", slog.String("path", path), slog.String("error", err.Error()))
	}
}

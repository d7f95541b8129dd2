package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrSegmentTooShort is returned when a finished segment holds less payload than the minimum
var ErrSegmentTooShort = errors.New("segment below minimum payload")

// Status is the lifecycle state of a segment
type Status string

const (
	StatusCapturing  Status = "capturing"
	StatusClosed     Status = "closed"
	StatusConverting Status = "converting"
	StatusConverted  Status = "converted"
	StatusFailed     Status = "failed"
)

// Segment is one silence-bounded raw capture
type Segment struct {
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
	RawPath   string    `json:"raw_path"`
	Size      int64     `json:"size_bytes"`
	Status    Status    `json:"status"`
}

// Config contains segment writer settings
type Config struct {
	Dir             string
	MinPayloadBytes int64
}

// maxNameAttempts bounds the createdAt bump on file name collisions
const maxNameAttempts = 1000

// Writer copies one platform audio stream into a raw s16le segment file
type Writer struct {
	logger  *slog.Logger
	config  Config
	segment Segment
	file    *os.File

	stream io.ReadCloser
	ended  bool
	active bool
	mu     sync.Mutex
}

// NewWriter creates the segment file for target. The file name is unique per
// (target, createdAt); a taken name bumps createdAt by one millisecond.
func NewWriter(logger *slog.Logger, config Config, target string, createdAt time.Time) (*Writer, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory %s: %w", config.Dir, err)
	}

	name := SanitizeTarget(target)
	createdAt = createdAt.Truncate(time.Millisecond)

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(config.Dir, fmt.Sprintf("user%s-%d.pcm", name, createdAt.UnixMilli()))

		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			createdAt = createdAt.Add(time.Millisecond)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
		}

		return &Writer{
			logger: logger,
			config: config,
			file:   file,
			segment: Segment{
				Target:    target,
				CreatedAt: createdAt,
				RawPath:   path,
				Status:    StatusCapturing,
			},
			active: true,
		}, nil
	}

	return nil, fmt.Errorf("failed to find a free segment file name for %s", target)
}

// SanitizeTarget maps a target identity to a string safe for file names
func SanitizeTarget(target string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, target)
}

// Run copies stream into the segment file until the stream ends, End is called
// or ctx is cancelled, then finalizes the segment. Segments below the minimum
// payload are deleted and reported with ErrSegmentTooShort.
func (w *Writer) Run(ctx context.Context, stream io.ReadCloser) (Segment, error) {
	w.mu.Lock()
	w.stream = stream
	ended := w.ended
	w.mu.Unlock()

	if ended {
		stream.Close()
	}

	stop := context.AfterFunc(ctx, func() { w.End() })
	defer stop()

	written, copyErr := io.Copy(w.file, stream)
	stream.Close()
	closeErr := w.file.Close()

	w.mu.Lock()
	w.active = false
	endedByCaller := w.ended
	w.segment.Size = written
	w.mu.Unlock()

	if copyErr != nil && !endedByCaller {
		w.discard()
		return w.Segment(), fmt.Errorf("failed to capture segment %s: %w", w.segment.RawPath, copyErr)
	}

	if closeErr != nil {
		w.discard()
		return w.Segment(), fmt.Errorf("failed to close segment file %s: %w", w.segment.RawPath, closeErr)
	}

	if written < w.config.MinPayloadBytes {
		w.logger.Debug("Discarding short segment",
			slog.String("path", w.segment.RawPath),
			slog.Int64("bytes", written),
		)
		w.discard()
		return w.Segment(), ErrSegmentTooShort
	}

	w.setStatus(StatusClosed)
	w.logger.Info("Recording saved",
		slog.String("target", w.segment.Target),
		slog.String("path", w.segment.RawPath),
		slog.Int64("bytes", written),
	)

	return w.Segment(), nil
}

// End terminates the segment early. The payload written so far is kept.
func (w *Writer) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ended {
		return
	}
	w.ended = true
	if w.stream != nil {
		w.stream.Close()
	}
}

// Active reports whether the writer is still capturing
func (w *Writer) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Segment returns a snapshot of the segment
func (w *Writer) Segment() Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segment
}

func (w *Writer) setStatus(status Status) {
	w.mu.Lock()
	w.segment.Status = status
	w.mu.Unlock()
}

func (w *Writer) discard() {
	w.setStatus(StatusFailed)
	if err := os.Remove(w.segment.RawPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("Failed to delete segment file",
			slog.String("path", w.segment.RawPath),
			slog.String("error", err.Error()),
		)
	}
}

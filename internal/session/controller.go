package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-moderation-service/internal/capture"
	"github.com/skypro1111/voice-moderation-service/internal/convert"
	"github.com/skypro1111/voice-moderation-service/internal/metrics"
	"github.com/skypro1111/voice-moderation-service/internal/moderation"
	"github.com/skypro1111/voice-moderation-service/internal/queue"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

var (
	// ErrTargetUnavailable means the target has no live audio presence
	ErrTargetUnavailable = errors.New("target user is not in a voice channel")
	// ErrAlreadyRecording means the requested target is already being recorded
	ErrAlreadyRecording = errors.New("target is already being recorded")
	// ErrActionFailed wraps a failed removal of a violating participant
	ErrActionFailed = errors.New("moderation action failed")
)

// Platform is the real-time voice platform
type Platform interface {
	// Locate returns the channel the target is currently speaking in
	Locate(ctx context.Context, target string) (string, error)
	// Join connects to a channel and returns the capture handle
	Join(ctx context.Context, channel string) (Connection, error)
	// Remove kicks the target from the session
	Remove(ctx context.Context, target, reason string) error
}

// Connection is a joined channel
type Connection interface {
	// Ready is closed once the transport can deliver audio
	Ready() <-chan struct{}
	// Subscribe returns the target's decoded s16le PCM. The reader returns
	// io.EOF after the configured silence gap.
	Subscribe(ctx context.Context, target string) (io.ReadCloser, error)
	Close() error
}

// Config contains session controller settings
type Config struct {
	Capture       capture.Config
	RemovalReason string
	RetainFailed  bool
	ReadyTimeout  time.Duration
	RearmBackoff  time.Duration
	RemoveTimeout time.Duration // bound on one removal call
}

// Controller starts and stops recording of one target and keeps the capture
// loop re-armed while the session is active
type Controller struct {
	logger    *slog.Logger
	config    Config
	platform  Platform
	converter convert.Converter
	queue     *queue.Queue
	metrics   *metrics.Metrics
	state     *State

	opMu        sync.Mutex
	conversions sync.WaitGroup
}

// Option customises a Controller
type Option func(*Controller)

// WithState injects the session state
func WithState(state *State) Option {
	return func(c *Controller) {
		c.state = state
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController creates a controller and registers it as the queue's violation handler
func NewController(logger *slog.Logger, config Config, platform Platform, converter convert.Converter, q *queue.Queue, opts ...Option) *Controller {
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = 10 * time.Second
	}
	if config.RearmBackoff <= 0 {
		config.RearmBackoff = time.Second
	}
	if config.RemoveTimeout <= 0 {
		config.RemoveTimeout = 10 * time.Second
	}

	c := &Controller{
		logger:    logger,
		config:    config,
		platform:  platform,
		converter: converter,
		queue:     q,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.state == nil {
		c.state = NewState()
	}

	q.SetViolationHandler(c)
	return c
}

// Start begins recording target. Any session for a different target is stopped first.
func (c *Controller) Start(ctx context.Context, target string) error {
	if target == "" {
		return fmt.Errorf("%w: empty target", ErrTargetUnavailable)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	channel, err := c.platform.Locate(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTargetUnavailable, err)
	}

	c.state.mu.Lock()
	current := c.state.target
	c.state.mu.Unlock()

	if current == target {
		return fmt.Errorf("%s: %w", target, ErrAlreadyRecording)
	}
	if current != "" {
		c.logger.Info("Replacing recording target",
			slog.String("previous", current),
			slog.String("target", target),
		)
		c.stopLocked()
	}

	conn, err := c.platform.Join(ctx, channel)
	if err != nil {
		return fmt.Errorf("failed to join channel %s: %w", channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.state.mu.Lock()
	c.state.generation++
	gen := c.state.generation
	c.state.target = target
	c.state.channel = channel
	c.state.conn = conn
	c.state.phase = PhaseIdle
	c.state.sessionID = uuid.NewString()
	c.state.startedAt = time.Now()
	c.state.cancel = cancel
	c.state.done = done
	sessionID := c.state.sessionID
	c.state.mu.Unlock()

	c.metrics.RecordSessionStarted()
	c.logger.Info("Started recording",
		slog.String("target", target),
		slog.String("channel", channel),
		slog.String("session_id", sessionID),
	)

	go c.run(loopCtx, gen, target, conn, done)
	return nil
}

// Stop ends the session. It is idempotent. The active segment is flushed and
// still processed; queued transcriptions are not cancelled.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	conn, writer, cancel, done, ok := c.state.reset(0)
	if !ok {
		return
	}
	c.release(conn, writer, cancel)

	// the loop exits once the ended writer returns
	<-done

	c.metrics.RecordSessionStopped()
	c.logger.Info("Stopped recording")
}

func (c *Controller) release(conn Connection, writer *capture.Writer, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if writer != nil {
		writer.End()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("Failed to close voice connection", slog.String("error", err.Error()))
		}
	}
	c.metrics.SetCaptureActive(false)
}

// Status returns a snapshot of the session
func (c *Controller) Status() Snapshot {
	return c.state.snapshot()
}

// run is the re-arm loop: Idle -> Capturing -> Closing -> Idle until the
// generation changes
func (c *Controller) run(ctx context.Context, gen uint64, target string, conn Connection, done chan struct{}) {
	defer close(done)

	select {
	case <-conn.Ready():
	case <-ctx.Done():
		return
	case <-time.After(c.config.ReadyTimeout):
		c.logger.Error("Voice connection did not become ready",
			slog.String("target", target),
			slog.Duration("timeout", c.config.ReadyTimeout),
		)
		if conn, writer, cancel, _, ok := c.state.reset(gen); ok {
			c.release(conn, writer, cancel)
			c.metrics.RecordSessionStopped()
		}
		return
	}

	for c.state.current(gen) {
		if err := c.captureOne(ctx, gen, target, conn); err != nil {
			c.logger.Warn("Capture failed, re-arming",
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
			case <-time.After(c.config.RearmBackoff):
			}
		}
		c.state.setPhase(gen, PhaseIdle)
	}
}

// captureOne arms one writer and hands its segment downstream
func (c *Controller) captureOne(ctx context.Context, gen uint64, target string, conn Connection) error {
	stream, err := conn.Subscribe(ctx, target)
	if err != nil {
		if !c.state.current(gen) {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", target, err)
	}

	writer, err := capture.NewWriter(c.logger, c.config.Capture, target, time.Now())
	if err != nil {
		stream.Close()
		return err
	}

	attached, duplicate := c.state.attachWriter(gen, writer)
	if !attached {
		if duplicate {
			c.logger.Debug("Writer already active, skipping arm", slog.String("target", target))
		}
		// Run on an ended writer removes the empty file
		writer.End()
		writer.Run(ctx, stream)
		return nil
	}
	c.metrics.SetCaptureActive(true)

	segment, err := writer.Run(ctx, stream)
	c.state.detachWriter(gen, writer)
	c.metrics.SetCaptureActive(false)

	switch {
	case errors.Is(err, capture.ErrSegmentTooShort):
		c.state.count(&c.state.dropped)
		c.metrics.RecordSegmentDropped("too_short")
		if segment.Size == 0 && c.state.current(gen) {
			return fmt.Errorf("audio stream for %s ended without data", target)
		}
		return nil
	case err != nil:
		c.state.count(&c.state.dropped)
		c.metrics.RecordSegmentDropped("capture_error")
		if !c.state.current(gen) {
			return nil
		}
		return err
	}

	c.state.count(&c.state.segments)
	c.metrics.RecordSegmentCaptured(segment.Size)

	ticket := c.queue.Reserve(segment.Target, segment.CreatedAt)
	c.conversions.Add(1)
	go c.convert(segment, ticket)

	return nil
}

// convert runs one conversion and fills or releases the reserved queue slot
func (c *Controller) convert(segment capture.Segment, ticket *queue.Ticket) {
	defer c.conversions.Done()

	start := time.Now()
	wavPath, err := c.converter.Convert(context.Background(), segment.RawPath)
	c.metrics.RecordConversion(err == nil, time.Since(start).Seconds())

	if err != nil {
		ticket.Discard()
		c.state.count(&c.state.conversionFailures)
		c.metrics.RecordSegmentDropped("conversion_failed")
		c.logger.Warn("Conversion failed",
			slog.String("target", segment.Target),
			slog.String("path", segment.RawPath),
			slog.String("error", err.Error()),
		)
		if !c.config.RetainFailed {
			c.removeFile(segment.RawPath)
		}
		return
	}

	c.removeFile(segment.RawPath)
	ticket.Complete(wavPath)

	c.logger.Debug("Segment converted",
		slog.String("target", segment.Target),
		slog.String("wav_path", wavPath),
		slog.Uint64("seq", ticket.Seq()),
	)
}

func (c *Controller) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("Failed to delete file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// HandleViolation removes the target from the session. Failures, including a
// removal that outlives RemoveTimeout, are logged and not retried.
func (c *Controller) HandleViolation(ctx context.Context, target string, utterance transcription.Utterance, verdict moderation.Verdict) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RemoveTimeout)
	defer cancel()

	err := c.platform.Remove(ctx, target, c.config.RemovalReason)
	if err != nil {
		err = fmt.Errorf("%w: remove %s: %v", ErrActionFailed, target, err)
		c.state.count(&c.state.removalFailures)
		c.metrics.RecordRemoval(false)
		c.logger.Error("Failed to kick user",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return
	}

	c.state.count(&c.state.removals)
	c.metrics.RecordRemoval(true)
	c.logger.Info("Kicked user for banned words",
		slog.String("target", target),
		slog.String("speaker", utterance.Speaker),
		slog.Any("matched_terms", verdict.MatchedTerms),
	)
}

// Wait blocks until in-flight conversions finish and the queue drains, or ctx ends
func (c *Controller) Wait(ctx context.Context) error {
	converted := make(chan struct{})
	go func() {
		c.conversions.Wait()
		close(converted)
	}()

	select {
	case <-converted:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.queue.Wait(ctx)
}

package vad

import (
	"io"
	"sync"
	"time"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
)

// Frame is one decoded block of interleaved s16le PCM
type Frame struct {
	PCM []int16
	At  time.Time
}

// DefaultTickInterval is how often the silence timer is checked between frames
const DefaultTickInterval = 50 * time.Millisecond

// GatedReader exposes one silence-bounded segment of a frame stream as an
// io.ReadCloser. Frames before the first voiced frame are dropped. Read
// returns io.EOF once the gate closes the segment, the frame channel is
// closed, or Close is called.
type GatedReader struct {
	frames    <-chan Frame
	processor *Processor
	gate      *Gate
	ticker    *time.Ticker

	buf   []byte
	ended bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewGatedReader wraps frames with the given processor and gate
func NewGatedReader(frames <-chan Frame, processor *Processor, gate *Gate, tickInterval time.Duration) *GatedReader {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &GatedReader{
		frames:    frames,
		processor: processor,
		gate:      gate,
		ticker:    time.NewTicker(tickInterval),
		done:      make(chan struct{}),
	}
}

// Read implements io.Reader
func (r *GatedReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.ended {
			return 0, io.EOF
		}

		select {
		case <-r.done:
			r.ended = true

		case frame, ok := <-r.frames:
			if !ok {
				r.ended = true
				continue
			}
			if len(frame.PCM) == 0 {
				continue
			}
			result, err := r.processor.Process(frame.PCM)
			if err != nil {
				return 0, err
			}
			switch r.gate.Observe(frame.At, result.HasVoice) {
			case DecisionKeep:
				r.buf = audio.SamplesToBytes(frame.PCM)
			case DecisionEnd:
				r.buf = audio.SamplesToBytes(frame.PCM)
				r.ended = true
			}

		case now := <-r.ticker.C:
			if r.gate.Tick(now) == DecisionEnd {
				r.ended = true
			}
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close ends the segment. A blocked Read returns io.EOF.
func (r *GatedReader) Close() error {
	r.closeOnce.Do(func() {
		r.ticker.Stop()
		close(r.done)
	})
	return nil
}

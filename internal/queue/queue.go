package queue

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
	"github.com/skypro1111/voice-moderation-service/internal/metrics"
	"github.com/skypro1111/voice-moderation-service/internal/moderation"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

// Job is one converted clip waiting for transcription
type Job struct {
	Seq       uint64
	Target    string
	CreatedAt time.Time
	WavPath   string
}

// ViolationHandler receives every utterance the policy flags
type ViolationHandler interface {
	HandleViolation(ctx context.Context, target string, utterance transcription.Utterance, verdict moderation.Verdict)
}

// Stats is a snapshot of queue counters
type Stats struct {
	Pending    int    `json:"pending"`
	Busy       bool   `json:"busy"`
	Processed  uint64 `json:"processed"`
	Failed     uint64 `json:"failed"`
	Discarded  uint64 `json:"discarded"`
	Utterances uint64 `json:"utterances"`
	Violations uint64 `json:"violations"`
	LastJobSeq uint64 `json:"last_job_seq"`
}

// Queue runs transcription jobs one at a time in reservation order.
// A slot is reserved when a segment closes and completed when its conversion
// finishes, so clips are transcribed in capture order even if conversions
// complete out of order.
type Queue struct {
	logger      *slog.Logger
	transcriber transcription.Transcriber
	policy      moderation.Policy
	metrics     *metrics.Metrics

	mu      sync.Mutex
	handler ViolationHandler
	slots   []*Ticket
	busy    bool
	nextSeq uint64
	drained chan struct{}
	stats   Stats
}

// Ticket is a reserved position in the queue
type Ticket struct {
	q       *Queue
	job     Job
	ready   bool
	settled bool
}

// New creates an idle queue
func New(logger *slog.Logger, transcriber transcription.Transcriber, policy moderation.Policy, m *metrics.Metrics) *Queue {
	drained := make(chan struct{})
	close(drained)

	return &Queue{
		logger:      logger,
		transcriber: transcriber,
		policy:      policy,
		metrics:     m,
		drained:     drained,
	}
}

// SetViolationHandler sets the receiver of flagged utterances
func (q *Queue) SetViolationHandler(handler ViolationHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

// Reserve appends a pending slot at the tail
func (q *Queue) Reserve(target string, createdAt time.Time) *Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.slots) == 0 && !q.busy {
		q.drained = make(chan struct{})
	}

	q.nextSeq++
	ticket := &Ticket{
		q:   q,
		job: Job{Seq: q.nextSeq, Target: target, CreatedAt: createdAt},
	}
	q.slots = append(q.slots, ticket)
	q.metrics.SetQueueDepth(len(q.slots))

	return ticket
}

// Enqueue appends a runnable job at the tail
func (q *Queue) Enqueue(target string, createdAt time.Time, wavPath string) uint64 {
	ticket := q.Reserve(target, createdAt)
	ticket.Complete(wavPath)
	return ticket.Seq()
}

// Seq returns the enqueue order of the ticket
func (t *Ticket) Seq() uint64 {
	return t.job.Seq
}

// Complete makes the slot runnable with the converted clip.
// It reports false if the ticket was already completed or discarded.
func (t *Ticket) Complete(wavPath string) bool {
	q := t.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.settled {
		return false
	}
	t.settled = true
	t.ready = true
	t.job.WavPath = wavPath

	q.kickLocked()
	return true
}

// Discard drops the slot so later jobs are not held behind it
func (t *Ticket) Discard() {
	q := t.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.settled {
		return
	}
	t.settled = true

	for i, slot := range q.slots {
		if slot == t {
			q.slots = append(q.slots[:i], q.slots[i+1:]...)
			break
		}
	}
	q.stats.Discarded++
	q.metrics.SetQueueDepth(len(q.slots))

	if len(q.slots) == 0 && !q.busy {
		close(q.drained)
		return
	}
	q.kickLocked()
}

// kickLocked starts the drain goroutine when idle and the head is runnable
func (q *Queue) kickLocked() {
	if q.busy || len(q.slots) == 0 || !q.slots[0].ready {
		return
	}
	q.busy = true
	go q.drain()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.slots) == 0 || !q.slots[0].ready {
			q.busy = false
			if len(q.slots) == 0 {
				close(q.drained)
			}
			q.mu.Unlock()
			return
		}

		head := q.slots[0]
		q.slots = q.slots[1:]
		handler := q.handler
		q.metrics.SetQueueDepth(len(q.slots))
		q.mu.Unlock()

		q.process(head.job, handler)
	}
}

// process transcribes one clip, evaluates every utterance and removes the clip files
func (q *Queue) process(job Job, handler ViolationHandler) {
	ctx := context.Background()
	defer q.cleanup(job)

	q.logger.Debug("Transcribing clip",
		slog.Uint64("seq", job.Seq),
		slog.String("target", job.Target),
		slog.String("wav_path", job.WavPath),
	)

	start := time.Now()
	utterances, err := q.transcriber.Transcribe(ctx, job.WavPath)
	elapsed := time.Since(start)

	if err != nil {
		q.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		q.logger.Warn("Transcription failed",
			slog.Uint64("seq", job.Seq),
			slog.String("target", job.Target),
			slog.Int("partial_utterances", len(utterances)),
			slog.String("error", err.Error()),
		)
	} else {
		q.metrics.RecordTranscriptionSuccess(elapsed.Seconds(), len(utterances))
	}

	var violations uint64
	for _, utterance := range utterances {
		if utterance.Speaker == "" {
			utterance.Speaker = job.Target
		}

		verdict := q.policy.Evaluate(utterance.Text)
		q.logger.Info("Utterance",
			slog.String("speaker", utterance.Speaker),
			slog.String("text", utterance.Text),
			slog.Bool("violates", verdict.Violates),
		)

		if !verdict.Violates {
			continue
		}

		violations++
		q.metrics.RecordViolation(verdict.MatchedTerms)
		q.logger.Warn("Detected banned words in transcription",
			slog.String("target", job.Target),
			slog.String("text", utterance.Text),
			slog.Any("matched_terms", verdict.MatchedTerms),
		)

		if handler != nil {
			handler.HandleViolation(ctx, job.Target, utterance, verdict)
		}
	}

	q.mu.Lock()
	q.stats.LastJobSeq = job.Seq
	q.stats.Utterances += uint64(len(utterances))
	q.stats.Violations += violations
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Processed++
	}
	q.mu.Unlock()
}

func (q *Queue) cleanup(job Job) {
	for _, path := range []string{job.WavPath, audio.MonoPath(job.WavPath)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			q.logger.Warn("Failed to remove clip file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Len returns the number of reserved and runnable slots not yet started
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// Wait blocks until every slot is processed or discarded, or ctx ends
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns a snapshot of queue counters
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.Pending = len(q.slots)
	stats.Busy = q.busy
	return stats
}

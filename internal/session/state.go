package session

import (
	"context"
	"sync"
	"time"

	"github.com/skypro1111/voice-moderation-service/internal/capture"
)

// Phase is the step of the re-arm loop
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCapturing Phase = "capturing"
	PhaseClosing   Phase = "closing"
)

// State is the single recording session owned by a Controller.
// target is set iff a capture attempt is in progress or active.
type State struct {
	mu sync.Mutex

	target     string
	channel    string
	conn       Connection
	writer     *capture.Writer
	phase      Phase
	generation uint64
	sessionID  string
	startedAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	segments           uint64
	dropped            uint64
	conversionFailures uint64
	removals           uint64
	removalFailures    uint64
}

// NewState returns an idle session state
func NewState() *State {
	return &State{phase: PhaseIdle}
}

// Snapshot is a point-in-time copy of the session state
type Snapshot struct {
	Target             string     `json:"target,omitempty"`
	Channel            string     `json:"channel,omitempty"`
	Phase              Phase      `json:"phase"`
	SessionID          string     `json:"session_id,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"` // nil while idle
	Generation         uint64     `json:"generation"`
	WriterActive       bool       `json:"writer_active"`
	Segments           uint64     `json:"segments"`
	Dropped            uint64     `json:"dropped"`
	ConversionFailures uint64     `json:"conversion_failures"`
	Removals           uint64     `json:"removals"`
	RemovalFailures    uint64     `json:"removal_failures"`
}

func (s *State) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var startedAt *time.Time
	if !s.startedAt.IsZero() {
		t := s.startedAt
		startedAt = &t
	}

	return Snapshot{
		Target:             s.target,
		Channel:            s.channel,
		Phase:              s.phase,
		SessionID:          s.sessionID,
		StartedAt:          startedAt,
		Generation:         s.generation,
		WriterActive:       s.writer != nil && s.writer.Active(),
		Segments:           s.segments,
		Dropped:            s.dropped,
		ConversionFailures: s.conversionFailures,
		Removals:           s.removals,
		RemovalFailures:    s.removalFailures,
	}
}

// current reports whether gen is still the live session
func (s *State) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target != "" && s.generation == gen
}

// setPhase moves the live session to phase. It reports false for a stale generation.
func (s *State) setPhase(gen uint64, phase Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target == "" || s.generation != gen {
		return false
	}
	s.phase = phase
	return true
}

// attachWriter stores w as the active writer. It refuses when the generation
// is stale or another writer is still active.
func (s *State) attachWriter(gen uint64, w *capture.Writer) (attached bool, duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target == "" || s.generation != gen {
		return false, false
	}
	if s.writer != nil && s.writer.Active() {
		return false, true
	}
	s.writer = w
	s.phase = PhaseCapturing
	return true, false
}

// detachWriter clears w and moves to closing if it is still the active writer
func (s *State) detachWriter(gen uint64, w *capture.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == w {
		s.writer = nil
	}
	if s.target != "" && s.generation == gen {
		s.phase = PhaseClosing
	}
}

// reset clears the session and returns what the caller must release.
// gen == 0 resets whatever session is live.
func (s *State) reset(gen uint64) (conn Connection, writer *capture.Writer, cancel context.CancelFunc, done chan struct{}, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target == "" || (gen != 0 && s.generation != gen) {
		return nil, nil, nil, nil, false
	}

	conn, writer, cancel, done = s.conn, s.writer, s.cancel, s.done

	s.generation++
	s.target = ""
	s.channel = ""
	s.conn = nil
	s.writer = nil
	s.cancel = nil
	s.done = nil
	s.sessionID = ""
	s.startedAt = time.Time{}
	s.phase = PhaseIdle

	return conn, writer, cancel, done, true
}

func (s *State) count(field *uint64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

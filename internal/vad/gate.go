package vad

import (
	"sync"
	"time"
)

// GateState represents the current state of the silence gate
type GateState int

const (
	StateIdle GateState = iota
	StateCollecting
	StateWaitingSilence
)

func (s GateState) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateWaitingSilence:
		return "waiting_silence"
	default:
		return "idle"
	}
}

// Decision tells the caller what to do with the frame just observed
type Decision int

const (
	// DecisionSkip drops the frame, no segment is open
	DecisionSkip Decision = iota
	// DecisionKeep appends the frame to the open segment
	DecisionKeep
	// DecisionEnd appends the frame (if any) and closes the segment
	DecisionEnd
)

// GateConfig contains the segmentation policy
type GateConfig struct {
	SilenceDuration time.Duration // continuous silence that closes a segment
	MaxDuration     time.Duration // hard cap on segment length, 0 disables it
}

// Gate turns per-frame voice decisions into segment boundaries.
// A segment opens on the first voiced frame and closes once SilenceDuration
// has passed since the last voiced frame, or when MaxDuration is reached.
type Gate struct {
	config GateConfig
	state  GateState

	// Timing tracking
	segmentStart     time.Time
	lastSpeechTime   time.Time
	silenceStartTime time.Time

	// Statistics
	segmentsEnded uint64
	totalDuration time.Duration

	mu sync.Mutex
}

// GateStats represents gate statistics
type GateStats struct {
	State         string        `json:"state"`
	SegmentsEnded uint64        `json:"segments_ended"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   float64       `json:"avg_segment_duration_sec"`
}

// NewGate creates a new silence gate
func NewGate(config GateConfig) *Gate {
	return &Gate{
		config: config,
		state:  StateIdle,
	}
}

// Observe processes one frame observed at now
func (g *Gate) Observe(now time.Time, voiced bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateIdle:
		if !voiced {
			return DecisionSkip
		}
		g.segmentStart = now
		g.lastSpeechTime = now
		g.silenceStartTime = time.Time{}
		g.state = StateCollecting

	case StateCollecting:
		if voiced {
			g.lastSpeechTime = now
		} else {
			g.silenceStartTime = now
			g.state = StateWaitingSilence
		}

	case StateWaitingSilence:
		if voiced {
			// Speech resumed, go back to collecting
			g.lastSpeechTime = now
			g.silenceStartTime = time.Time{}
			g.state = StateCollecting
		} else if now.Sub(g.lastSpeechTime) >= g.config.SilenceDuration {
			return g.finish(now)
		}
	}

	if g.config.MaxDuration > 0 && now.Sub(g.segmentStart) >= g.config.MaxDuration {
		return g.finish(now)
	}

	return DecisionKeep
}

// Tick checks the silence timer when no frame has arrived. Senders using
// discontinuous transmission stop sending packets while the speaker is quiet.
func (g *Gate) Tick(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateIdle {
		return DecisionSkip
	}

	if now.Sub(g.lastSpeechTime) >= g.config.SilenceDuration {
		return g.finish(now)
	}

	if g.config.MaxDuration > 0 && now.Sub(g.segmentStart) >= g.config.MaxDuration {
		return g.finish(now)
	}

	return DecisionKeep
}

// finish closes the open segment and resets for the next one
func (g *Gate) finish(now time.Time) Decision {
	g.segmentsEnded++
	g.totalDuration += now.Sub(g.segmentStart)

	g.state = StateIdle
	g.segmentStart = time.Time{}
	g.lastSpeechTime = time.Time{}
	g.silenceStartTime = time.Time{}

	return DecisionEnd
}

// IsIdle returns whether no segment is open
func (g *Gate) IsIdle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateIdle
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	avgDuration := float64(0)
	if g.segmentsEnded > 0 {
		avgDuration = g.totalDuration.Seconds() / float64(g.segmentsEnded)
	}

	return GateStats{
		State:         g.state.String(),
		SegmentsEnded: g.segmentsEnded,
		TotalDuration: g.totalDuration,
		AvgDuration:   avgDuration,
	}
}

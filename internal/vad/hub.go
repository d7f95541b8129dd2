package vad

import (
	"fmt"
	"sync"
	"time"
)

// hubBuffer is the per-subscriber backlog before frames are dropped
const hubBuffer = 256

// HubConfig contains the detection settings applied to every subscription
type HubConfig struct {
	Threshold    float32
	Gate         GateConfig
	TickInterval time.Duration
}

// Hub fans one speaker's frames out to segment subscriptions and keeps
// detection statistics across them
type Hub struct {
	config HubConfig

	mu          sync.Mutex
	subscribers map[chan Frame]struct{}

	// Statistics
	dropped        uint64
	windows        uint64
	voiceWindows   uint64
	segmentsEnded  uint64
	segmentsCut    uint64
	speechDuration time.Duration
	trackEnds      uint64
}

// HubStats represents accumulated detection statistics for one speaker
type HubStats struct {
	Subscribers     int           `json:"subscribers"`
	DroppedFrames   uint64        `json:"dropped_frames"`
	Windows         uint64        `json:"windows"`
	VoicePercentage float64       `json:"voice_percentage"`
	SegmentsEnded   uint64        `json:"segments_ended"`
	SegmentsCut     uint64        `json:"segments_cut"` // closed before the silence gap
	AvgSegment      time.Duration `json:"avg_segment"`
	TrackEnds       uint64        `json:"track_ends"`
	Threshold       float32       `json:"threshold"`
}

// NewHub creates a hub
func NewHub(config HubConfig) *Hub {
	return &Hub{
		config:      config,
		subscribers: make(map[chan Frame]struct{}),
	}
}

// Publish delivers frame to every subscription without blocking
func (h *Hub) Publish(frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- frame:
		default:
			h.dropped++
		}
	}
}

// EndTrack ends the open subscriptions after their buffered frames. Later
// subscriptions wait for the next track.
func (h *Hub) EndTrack() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.trackEnds++
}

// Subscribe returns a reader for the next silence-bounded segment
func (h *Hub) Subscribe() (*Subscription, error) {
	processor, err := NewProcessor(h.config.Threshold)
	if err != nil {
		return nil, fmt.Errorf("create vad processor: %w", err)
	}
	gate := NewGate(h.config.Gate)

	ch := make(chan Frame, hubBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return &Subscription{
		GatedReader: NewGatedReader(ch, processor, gate, h.config.TickInterval),
		hub:         h,
		ch:          ch,
		processor:   processor,
		gate:        gate,
	}, nil
}

func (h *Hub) release(s *Subscription) {
	processorStats := s.processor.GetStats()
	gateStats := s.gate.GetStats()
	cut := !s.gate.IsIdle()

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subscribers, s.ch)
	h.windows += processorStats.TotalWindows
	h.voiceWindows += processorStats.VoiceWindows
	h.segmentsEnded += gateStats.SegmentsEnded
	h.speechDuration += gateStats.TotalDuration
	if cut {
		h.segmentsCut++
	}
}

// GetStats returns accumulated statistics of released subscriptions
func (h *Hub) GetStats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HubStats{
		Subscribers:   len(h.subscribers),
		DroppedFrames: h.dropped,
		Windows:       h.windows,
		SegmentsEnded: h.segmentsEnded,
		SegmentsCut:   h.segmentsCut,
		TrackEnds:     h.trackEnds,
		Threshold:     h.config.Threshold,
	}
	if h.windows > 0 {
		stats.VoicePercentage = float64(h.voiceWindows) / float64(h.windows) * 100
	}
	if h.segmentsEnded > 0 {
		stats.AvgSegment = h.speechDuration / time.Duration(h.segmentsEnded)
	}
	return stats
}

// Subscription is one segment reader attached to a Hub
type Subscription struct {
	*GatedReader
	hub       *Hub
	ch        chan Frame
	processor *Processor
	gate      *Gate
	once      sync.Once
}

// Close detaches from the hub and ends the segment
func (s *Subscription) Close() error {
	s.once.Do(func() { s.hub.release(s) })
	return s.GatedReader.Close()
}

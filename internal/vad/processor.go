package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// fullScaleRMS is the RMS level mapped to probability 1.0
const fullScaleRMS = 10000.0

// Processor provides energy-based voice activity detection over PCM windows
type Processor struct {
	threshold float32

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	Probability float32   `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool      `json:"has_voice"`   // Whether voice was detected
	Confidence  float32   `json:"confidence"`  // Confidence in the result
	WindowIndex int       `json:"window_index"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32) (*Processor, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	return &Processor{threshold: threshold}, nil
}

// Process classifies one window of interleaved samples of any length
func (p *Processor) Process(samples []int16) (*VADResult, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot process empty window")
	}

	probability := Energy(samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	hasVoice := probability >= p.threshold

	// Update statistics
	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	// Calculate confidence (higher when probability is far from threshold)
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence = confidence * 2 // Scale to 0-1

	return &VADResult{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence,
		WindowIndex: int(p.totalWindows - 1),
		Timestamp:   p.lastProcessed,
	}, nil
}

// Energy returns the normalized RMS energy of samples in [0, 1]
func Energy(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(len(samples)))

	normalized := energy / fullScaleRMS
	if normalized > 1.0 {
		normalized = 1.0
	}
	return float32(normalized)
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

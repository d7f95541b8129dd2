package audio

import (
	"fmt"
	"sync"
	"time"
)

// Reorderer puts RTP payloads back into sequence order before decoding.
// Sequence numbers are 16-bit and wrap around.
type Reorderer struct {
	// Sequence tracking
	started     bool
	lastSeq     uint16
	expectedSeq uint16
	pending     map[uint16][]byte

	// Packet loss tracking
	maxGap uint16 // missing packets waited for before skipping ahead

	// Statistics
	lastUpdate   time.Time
	totalPackets uint64
	lostCount    uint64

	mu sync.Mutex
}

// ReorderStats represents reorder statistics for monitoring
type ReorderStats struct {
	TotalPackets uint64  `json:"total_packets"`
	LostPackets  uint64  `json:"lost_packets"`
	LossRate     float64 `json:"loss_rate"`
	PendingSeqs  int     `json:"pending_sequences"`
	LastSequence uint16  `json:"last_sequence"`
}

// NewReorderer creates a reorderer that waits for up to maxGap missing packets
func NewReorderer(maxGap uint16) *Reorderer {
	if maxGap == 0 {
		maxGap = 20
	}
	return &Reorderer{
		pending: make(map[uint16][]byte),
		maxGap:  maxGap,
	}
}

// Push adds one payload and returns every payload that is now in order
func (r *Reorderer) Push(sequence uint16, payload []byte) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastUpdate = time.Now()
	r.totalPackets++

	// Initialize expected sequence on first packet
	if !r.started {
		r.started = true
		r.expectedSeq = sequence
		r.lastSeq = sequence - 1
	}

	distance := int16(sequence - r.expectedSeq)
	if distance < 0 {
		return nil, fmt.Errorf("ignoring old/duplicate packet: seq=%d, lastSeq=%d", sequence, r.lastSeq)
	}

	// Payloads are retained past the call, callers may reuse their buffers
	buffered := make([]byte, len(payload))
	copy(buffered, payload)

	if distance == 0 {
		out := [][]byte{buffered}
		r.lastSeq = sequence
		r.expectedSeq = sequence + 1
		return r.drain(out), nil
	}

	// Future packet - buffer it
	r.pending[sequence] = buffered

	if uint16(distance) > r.maxGap {
		// Give up on the gap and resume from the oldest buffered packet
		for {
			if _, ok := r.pending[r.expectedSeq]; ok {
				break
			}
			r.lostCount++
			r.expectedSeq++
		}
		return r.drain(nil), nil
	}
	return nil, nil
}

// drain appends consecutive buffered payloads starting at expectedSeq
func (r *Reorderer) drain(out [][]byte) [][]byte {
	for {
		payload, exists := r.pending[r.expectedSeq]
		if !exists {
			return out
		}
		out = append(out, payload)
		delete(r.pending, r.expectedSeq)
		r.lastSeq = r.expectedSeq
		r.expectedSeq++
	}
}

// GetStats returns current reorder statistics
func (r *Reorderer) GetStats() ReorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	lossRate := float64(0)
	if r.totalPackets > 0 {
		lossRate = float64(r.lostCount) / float64(r.totalPackets) * 100
	}

	return ReorderStats{
		TotalPackets: r.totalPackets,
		LostPackets:  r.lostCount,
		LossRate:     lossRate,
		PendingSeqs:  len(r.pending),
		LastSequence: r.lastSeq,
	}
}

// GetLastUpdate returns the time of the last pushed packet
func (r *Reorderer) GetLastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdate
}

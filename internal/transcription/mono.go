package transcription

import (
	"fmt"
	"os"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
)

// ResampleFunc converts mono samples between sample rates
type ResampleFunc func(samples []int16, fromRate, toRate int) ([]int16, error)

// MonoPreparer downmixes a WAV file to mono next to the original as <name>_mono.wav
type MonoPreparer struct {
	targetRate int
	resample   ResampleFunc
}

// NewMonoPreparer creates a preparer. With a nil resample the source rate is kept.
func NewMonoPreparer(targetRate int, resample ResampleFunc) *MonoPreparer {
	return &MonoPreparer{targetRate: targetRate, resample: resample}
}

// Prepare writes the mono intermediate and returns its path. Input that is
// already mono at the target rate is used as is.
func (m *MonoPreparer) Prepare(wavPath string) (string, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", wavPath, err)
	}

	samples, rate, channels, err := audio.DecodeWAV(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", wavPath, err)
	}

	needsResample := m.resample != nil && m.targetRate > 0 && rate != m.targetRate
	if channels == 1 && !needsResample {
		return wavPath, nil
	}

	mono := audio.DownmixToMono(samples, channels)
	if needsResample {
		mono, err = m.resample(mono, rate, m.targetRate)
		if err != nil {
			return "", fmt.Errorf("failed to resample %s: %w", wavPath, err)
		}
		rate = m.targetRate
	}

	encoded, err := audio.EncodeWAV(mono, rate, 1)
	if err != nil {
		return "", fmt.Errorf("failed to encode mono WAV: %w", err)
	}

	monoPath := audio.MonoPath(wavPath)
	if err := os.WriteFile(monoPath, encoded, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", monoPath, err)
	}

	return monoPath, nil
}

// Package resample converts mono 16-bit PCM between sample rates with libsoxr.
package resample

import (
	"bytes"
	"fmt"

	soxr "github.com/zaf/resample"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
)

// Mono resamples a whole mono clip from fromRate to toRate.
// It matches transcription.ResampleFunc.
func Mono(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	var out bytes.Buffer
	resampler, err := soxr.New(&out, float64(fromRate), float64(toRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	if _, err := resampler.Write(audio.SamplesToBytes(samples)); err != nil {
		resampler.Close()
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	// Close flushes the samples still held in the filter
	if err := resampler.Close(); err != nil {
		return nil, fmt.Errorf("resampler close: %w", err)
	}

	return audio.BytesToSamples(out.Bytes()), nil
}

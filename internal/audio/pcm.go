package audio

import (
	"encoding/binary"
	"path/filepath"
	"strings"
)

// BytesToSamples converts little-endian s16le bytes to samples. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian s16le bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// DownmixToMono averages interleaved channels into a single channel
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// MonoPath returns the path of the mono intermediate derived from a WAV file
func MonoPath(wavPath string) string {
	ext := filepath.Ext(wavPath)
	return strings.TrimSuffix(wavPath, ext) + "_mono.wav"
}

package vad

import (
	"testing"
)

func constantWindow(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		expectErr bool
	}{
		{"valid threshold", 0.02, false},
		{"upper bound", 1.0, false},
		{"zero threshold", 0, true},
		{"threshold too low", -0.1, true},
		{"threshold too high", 1.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestVoiceActivityDetection(t *testing.T) {
	processor, err := NewProcessor(0.02)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	tests := []struct {
		name        string
		samples     []int16
		expectVoice bool
	}{
		{
			name:        "silence",
			samples:     make([]int16, 1920),
			expectVoice: false,
		},
		{
			name:        "high energy",
			samples:     constantWindow(1920, 8000),
			expectVoice: true,
		},
		{
			name:        "low energy",
			samples:     constantWindow(1920, 100),
			expectVoice: false,
		},
		{
			name: "alternating pattern",
			samples: func() []int16 {
				samples := make([]int16, 960)
				for i := range samples {
					if i%2 == 0 {
						samples[i] = 5000
					} else {
						samples[i] = -5000
					}
				}
				return samples
			}(),
			expectVoice: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := processor.Process(tt.samples)
			if err != nil {
				t.Fatalf("Failed to process window: %v", err)
			}

			if result.HasVoice != tt.expectVoice {
				t.Errorf("Expected hasVoice=%v, got %v (probability=%.3f)",
					tt.expectVoice, result.HasVoice, result.Probability)
			}

			if result.Confidence < 0 || result.Confidence > 1 {
				t.Errorf("Confidence out of range: %f", result.Confidence)
			}
		})
	}
}

func TestProcessDeterministic(t *testing.T) {
	processor, err := NewProcessor(0.5)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	samples := constantWindow(960, 5000)
	first, _ := processor.Process(samples)
	for i := 0; i < 20; i++ {
		result, err := processor.Process(samples)
		if err != nil {
			t.Fatalf("Failed to process window: %v", err)
		}
		if result.Probability != first.Probability {
			t.Fatalf("Window %d: probability drifted from %f to %f", i, first.Probability, result.Probability)
		}
	}
}

func TestProcessEmptyWindow(t *testing.T) {
	processor, _ := NewProcessor(0.5)

	if _, err := processor.Process(nil); err == nil {
		t.Error("Expected error for empty window")
	}
}

func TestEnergy(t *testing.T) {
	if e := Energy(make([]int16, 100)); e != 0 {
		t.Errorf("Expected zero energy for silence, got %f", e)
	}

	if e := Energy(constantWindow(100, 32767)); e != 1 {
		t.Errorf("Expected energy to clamp at 1, got %f", e)
	}

	if e := Energy(constantWindow(100, 5000)); e < 0.49 || e > 0.51 {
		t.Errorf("Expected energy around 0.5, got %f", e)
	}
}

func TestProcessorStats(t *testing.T) {
	processor, err := NewProcessor(0.6)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	highEnergySamples := constantWindow(512, 8000)
	silenceSamples := make([]int16, 512)

	// Process alternating voice and silence
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			processor.Process(highEnergySamples)
		} else {
			processor.Process(silenceSamples)
		}
	}

	stats := processor.GetStats()

	if stats.TotalWindows != 10 {
		t.Errorf("Expected 10 total windows, got %d", stats.TotalWindows)
	}

	if stats.VoiceWindows != 5 {
		t.Errorf("Expected 5 voice windows, got %d", stats.VoiceWindows)
	}

	if stats.VoicePercentage != 50 {
		t.Errorf("Expected 50%% voice, got %f", stats.VoicePercentage)
	}

	if stats.Threshold != 0.6 {
		t.Errorf("Expected threshold 0.6, got %f", stats.Threshold)
	}

	if stats.LastProcessed.IsZero() {
		t.Error("Expected non-zero last processed time")
	}
}

func TestConcurrentProcessing(t *testing.T) {
	processor, err := NewProcessor(0.5)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	done := make(chan bool)
	numGoroutines := 5
	numProcessPerGoroutine := 20

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer func() { done <- true }()

			samples := constantWindow(512, int16(id*1000)) // Different energy per goroutine

			for j := 0; j < numProcessPerGoroutine; j++ {
				result, err := processor.Process(samples)
				if err != nil {
					t.Errorf("Goroutine %d failed to process: %v", id, err)
					return
				}
				if result == nil {
					t.Errorf("Goroutine %d got nil result", id)
					return
				}
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats := processor.GetStats()
	expectedWindows := uint64(numGoroutines * numProcessPerGoroutine)
	if stats.TotalWindows != expectedWindows {
		t.Errorf("Expected %d total windows, got %d", expectedWindows, stats.TotalWindows)
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Platform      PlatformConfig      `yaml:"platform"`
	HTTP          HTTPConfig          `yaml:"http"`
	Capture       CaptureConfig       `yaml:"capture"`
	Converter     ConverterConfig     `yaml:"converter"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Moderation    ModerationConfig    `yaml:"moderation"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// PlatformConfig contains LiveKit connection settings
type PlatformConfig struct {
	URL           string   `yaml:"url"`
	APIKey        string   `yaml:"api_key"`
	APISecret     string   `yaml:"api_secret"`
	Identity      string   `yaml:"identity"`       // identity the recorder joins rooms with
	Rooms         []string `yaml:"rooms"`          // rooms searched for targets, empty means all
	ReadyTimeout  int      `yaml:"ready_timeout"`  // seconds
	RemoveTimeout int      `yaml:"remove_timeout"` // seconds, bound on one removal call
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// CaptureConfig contains segment capture parameters
type CaptureConfig struct {
	RecordingsDir      string  `yaml:"recordings_dir"`
	SampleRate         int     `yaml:"sample_rate"`
	Channels           int     `yaml:"channels"`
	SilenceDurationMs  int     `yaml:"silence_duration_ms"`
	MaxSegmentDuration float64 `yaml:"max_segment_duration"` // seconds
	MinPayloadBytes    int64   `yaml:"min_payload_bytes"`
	VADThreshold       float32 `yaml:"vad_threshold"`
}

// ConverterConfig selects and tunes the raw-to-WAV converter
type ConverterConfig struct {
	Backend      string `yaml:"backend"` // "ffmpeg" or "native"
	FFmpegPath   string `yaml:"ffmpeg_path"`
	Timeout      int    `yaml:"timeout"` // seconds
	RetainFailed bool   `yaml:"retain_failed"`
}

// TranscriptionConfig selects and tunes the speech-to-text backend
type TranscriptionConfig struct {
	Backend        string   `yaml:"backend"` // "command" or "http"
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	Downmix        bool     `yaml:"downmix"`
	MonoSampleRate int      `yaml:"mono_sample_rate"`
	Endpoint       string   `yaml:"endpoint"`
	APIKey         string   `yaml:"api_key"`
	Timeout        int      `yaml:"timeout"` // seconds
	MaxRetries     int      `yaml:"max_retries"`
}

// ModerationConfig contains the denylist policy
type ModerationConfig struct {
	Denylist      []string `yaml:"denylist"`
	RemovalReason string   `yaml:"removal_reason"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a configuration with every optional field populated
func Default() Config {
	return Config{
		Platform: PlatformConfig{
			Identity:      "voice-moderator",
			ReadyTimeout:  10,
			RemoveTimeout: 10,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Capture: CaptureConfig{
			RecordingsDir:      "./recordings",
			SampleRate:         48000,
			Channels:           2,
			SilenceDurationMs:  700,
			MaxSegmentDuration: 30,
			MinPayloadBytes:    100,
			VADThreshold:       0.02,
		},
		Converter: ConverterConfig{
			Backend:    "ffmpeg",
			FFmpegPath: "ffmpeg",
			Timeout:    30,
		},
		Transcription: TranscriptionConfig{
			Backend:        "command",
			Command:        "python",
			Args:           []string{"transcribe_audio.py"},
			MonoSampleRate: 16000,
			Timeout:        120,
			MaxRetries:     2,
		},
		Moderation: ModerationConfig{
			RemovalReason: "Detected use of banned words.",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load reads and parses the configuration file, then applies .env and environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	c.Platform.URL = getEnv("LIVEKIT_URL", c.Platform.URL)
	c.Platform.APIKey = getEnv("LIVEKIT_API_KEY", c.Platform.APIKey)
	c.Platform.APISecret = getEnv("LIVEKIT_API_SECRET", c.Platform.APISecret)
	c.Transcription.APIKey = getEnv("TRANSCRIPTION_API_KEY", c.Transcription.APIKey)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Platform.Validate(); err != nil {
		return fmt.Errorf("platform config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Converter.Validate(); err != nil {
		return fmt.Errorf("converter config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Moderation.Validate(); err != nil {
		return fmt.Errorf("moderation config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates platform configuration
func (p *PlatformConfig) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("url cannot be empty (set LIVEKIT_URL)")
	}

	if p.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set LIVEKIT_API_KEY)")
	}

	if p.APISecret == "" {
		return fmt.Errorf("api_secret cannot be empty (set LIVEKIT_API_SECRET)")
	}

	if p.Identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	if p.ReadyTimeout < 1 {
		return fmt.Errorf("ready_timeout must be at least 1 second, got %d", p.ReadyTimeout)
	}

	if p.RemoveTimeout < 1 {
		return fmt.Errorf("remove_timeout must be at least 1 second, got %d", p.RemoveTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates capture configuration
func (a *CaptureConfig) Validate() error {
	if a.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	if a.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 48000 Hz for decoded opus audio, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.SilenceDurationMs < 100 {
		return fmt.Errorf("silence_duration_ms must be at least 100, got %d", a.SilenceDurationMs)
	}

	if a.MaxSegmentDuration <= 0 {
		return fmt.Errorf("max_segment_duration must be positive, got %f", a.MaxSegmentDuration)
	}

	if a.GetSilenceDuration() >= a.GetMaxSegmentDuration() {
		return fmt.Errorf("max_segment_duration (%f) must be longer than the silence gap (%dms)",
			a.MaxSegmentDuration, a.SilenceDurationMs)
	}

	if a.MinPayloadBytes < 0 {
		return fmt.Errorf("min_payload_bytes cannot be negative, got %d", a.MinPayloadBytes)
	}

	if a.VADThreshold <= 0 || a.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be in (0, 1], got %f", a.VADThreshold)
	}

	return nil
}

// Validate validates converter configuration
func (c *ConverterConfig) Validate() error {
	switch c.Backend {
	case "ffmpeg":
		if c.FFmpegPath == "" {
			return fmt.Errorf("ffmpeg_path cannot be empty for the ffmpeg backend")
		}
	case "native":
	default:
		return fmt.Errorf("backend must be 'ffmpeg' or 'native', got '%s'", c.Backend)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "command":
		if t.Command == "" {
			return fmt.Errorf("command cannot be empty for the command backend")
		}
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the http backend")
		}
	default:
		return fmt.Errorf("backend must be 'command' or 'http', got '%s'", t.Backend)
	}

	if t.Downmix && (t.MonoSampleRate < 8000 || t.MonoSampleRate > 48000) {
		return fmt.Errorf("mono_sample_rate must be between 8000 and 48000, got %d", t.MonoSampleRate)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	return nil
}

// Validate validates moderation configuration
func (m *ModerationConfig) Validate() error {
	for i, term := range m.Denylist {
		if term == "" {
			return fmt.Errorf("denylist entry %d is empty", i)
		}
	}

	if m.RemovalReason == "" {
		return fmt.Errorf("removal_reason cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path and gets rotated
	if l.Output != "stdout" && l.Output != "stderr" && l.Output != "" {
		if l.MaxSizeMB < 1 {
			return fmt.Errorf("max_size_mb must be at least 1 for file output, got %d", l.MaxSizeMB)
		}
	}

	return nil
}

// GetReadyTimeoutDuration returns the room join timeout as a time.Duration
func (p *PlatformConfig) GetReadyTimeoutDuration() time.Duration {
	return time.Duration(p.ReadyTimeout) * time.Second
}

// GetRemoveTimeoutDuration returns the participant removal timeout as a time.Duration
func (p *PlatformConfig) GetRemoveTimeoutDuration() time.Duration {
	return time.Duration(p.RemoveTimeout) * time.Second
}

// GetSilenceDuration returns the end-of-segment silence gap as a time.Duration
func (a *CaptureConfig) GetSilenceDuration() time.Duration {
	return time.Duration(a.SilenceDurationMs) * time.Millisecond
}

// GetMaxSegmentDuration returns the segment length cap as a time.Duration
func (a *CaptureConfig) GetMaxSegmentDuration() time.Duration {
	return time.Duration(a.MaxSegmentDuration * float64(time.Second))
}

// GetTimeoutDuration returns the converter process timeout as a time.Duration
func (c *ConverterConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

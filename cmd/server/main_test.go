package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/voice-moderation-service/internal/config"
	"github.com/skypro1111/voice-moderation-service/internal/convert"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

func TestInitLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, closer := initLogger(config.LoggingConfig{
		Level:      "warn",
		Format:     "json",
		Output:     path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})

	logger.Info("hidden")
	logger.Warn("visible", slog.String("key", "value"))
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info record to be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"visible"`) {
		t.Errorf("Expected JSON warn record, got %q", out)
	}
}

func TestNewTranscriberBackends(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Default()
	tr, err := newTranscriber(&cfg, logger, nil)
	if err != nil {
		t.Fatalf("newTranscriber failed: %v", err)
	}
	if _, ok := tr.(*transcription.Command); !ok {
		t.Errorf("Expected command transcriber, got %T", tr)
	}

	cfg.Transcription.Backend = "http"
	cfg.Transcription.Endpoint = "http://localhost:9000/transcribe"
	tr, err = newTranscriber(&cfg, logger, nil)
	if err != nil {
		t.Fatalf("newTranscriber failed: %v", err)
	}
	if _, ok := tr.(*transcription.Client); !ok {
		t.Errorf("Expected http client, got %T", tr)
	}
}

func TestNewConverterBackends(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Default()
	if _, ok := newConverter(&cfg, logger).(*convert.FFmpeg); !ok {
		t.Errorf("Expected ffmpeg converter by default")
	}

	cfg.Converter.Backend = "native"
	if _, ok := newConverter(&cfg, logger).(*convert.Native); !ok {
		t.Errorf("Expected native converter")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "check", "transcribe"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s, got %v (err %v)", name, cmd, err)
		}
	}
}

package main

import (
	"log/slog"

	"github.com/skypro1111/voice-moderation-service/internal/audio/resample"
	"github.com/skypro1111/voice-moderation-service/internal/capture"
	"github.com/skypro1111/voice-moderation-service/internal/config"
	"github.com/skypro1111/voice-moderation-service/internal/convert"
	"github.com/skypro1111/voice-moderation-service/internal/metrics"
	"github.com/skypro1111/voice-moderation-service/internal/platform/livekit"
	"github.com/skypro1111/voice-moderation-service/internal/session"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

func newConverter(cfg *config.Config, logger *slog.Logger) convert.Converter {
	format := convert.Format{
		SampleRate: cfg.Capture.SampleRate,
		Channels:   cfg.Capture.Channels,
	}

	if cfg.Converter.Backend == "native" {
		return convert.NewNative(logger, format)
	}
	return convert.NewFFmpeg(logger, cfg.Converter.FFmpegPath, format, cfg.Converter.GetTimeoutDuration())
}

func newTranscriber(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (transcription.Transcriber, error) {
	tc := cfg.Transcription

	if tc.Backend == "http" {
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:   tc.Endpoint,
			APIKey:     tc.APIKey,
			Timeout:    tc.GetTimeoutDuration(),
			MaxRetries: tc.MaxRetries,
			OnRetry:    m.RecordTranscriptionRetry,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	var preparer transcription.Preparer
	if tc.Downmix {
		preparer = transcription.NewMonoPreparer(tc.MonoSampleRate, resample.Mono)
	}
	return transcription.NewCommand(logger, tc.Command, tc.Args, tc.GetTimeoutDuration(), preparer), nil
}

func newPlatform(cfg *config.Config, logger *slog.Logger) *livekit.Platform {
	return livekit.New(logger.With(slog.String("component", "livekit")), livekit.Config{
		URL:                cfg.Platform.URL,
		APIKey:             cfg.Platform.APIKey,
		APISecret:          cfg.Platform.APISecret,
		Identity:           cfg.Platform.Identity,
		Rooms:              cfg.Platform.Rooms,
		SampleRate:         cfg.Capture.SampleRate,
		Channels:           cfg.Capture.Channels,
		SilenceDuration:    cfg.Capture.GetSilenceDuration(),
		MaxSegmentDuration: cfg.Capture.GetMaxSegmentDuration(),
		VADThreshold:       cfg.Capture.VADThreshold,
	})
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Capture: capture.Config{
			Dir:             cfg.Capture.RecordingsDir,
			MinPayloadBytes: cfg.Capture.MinPayloadBytes,
		},
		RemovalReason: cfg.Moderation.RemovalReason,
		RetainFailed:  cfg.Converter.RetainFailed,
		ReadyTimeout:  cfg.Platform.GetReadyTimeoutDuration(),
		RemoveTimeout: cfg.Platform.GetRemoveTimeoutDuration(),
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/voice-moderation-service/internal/metrics"
	"github.com/skypro1111/voice-moderation-service/internal/moderation"
	"github.com/skypro1111/voice-moderation-service/internal/queue"
	"github.com/skypro1111/voice-moderation-service/internal/server"
	"github.com/skypro1111/voice-moderation-service/internal/session"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

func newServeCmd(configPath *string) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the moderation service and its HTTP command surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, target)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Start recording this participant at boot")

	return cmd
}

func runServe(configPath, target string) error {
	cfg, logger, closer, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("platform_url", cfg.Platform.URL),
		slog.String("identity", cfg.Platform.Identity),
		slog.String("recordings_dir", cfg.Capture.RecordingsDir),
		slog.Int("silence_duration_ms", cfg.Capture.SilenceDurationMs),
		slog.String("converter", cfg.Converter.Backend),
		slog.String("transcription", cfg.Transcription.Backend),
		slog.Int("denylist_terms", len(cfg.Moderation.Denylist)),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	transcriber, err := newTranscriber(cfg, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}

	q := queue.New(logger.With(slog.String("component", "queue")), transcriber,
		moderation.NewDenylist(cfg.Moderation.Denylist), appMetrics)

	controller := session.NewController(
		logger.With(slog.String("component", "session")),
		sessionConfig(cfg),
		newPlatform(cfg, logger),
		newConverter(cfg, logger),
		q,
		session.WithMetrics(appMetrics),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg.HTTP, logger.With(slog.String("component", "http")),
			cfg, controller, q, appMetrics, prometheus.DefaultGatherer)
		if client, ok := transcriber.(*transcription.Client); ok {
			httpServer.SetTranscriptionStats(client)
		}
		g.Go(func() error {
			return httpServer.Run(gctx)
		})
	}

	if target != "" {
		if err := controller.Start(ctx, target); err != nil {
			logger.Error("Failed to start recording",
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("Service started successfully, waiting for signals...")

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		controller.Stop()

		// in-flight segments get a conversion, a transcription and a removal attempt
		drainTimeout := cfg.Converter.GetTimeoutDuration() + cfg.Transcription.GetTimeoutDuration() +
			cfg.Platform.GetRemoveTimeoutDuration() + 5*time.Second
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()

		if err := controller.Wait(drainCtx); err != nil {
			logger.Warn("Transcription queue not drained",
				slog.Int("pending", q.Len()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	err = g.Wait()

	stats := q.GetStats()
	status := controller.Status()
	logger.Info("Final statistics",
		slog.Uint64("segments", status.Segments),
		slog.Uint64("dropped", status.Dropped),
		slog.Uint64("conversion_failures", status.ConversionFailures),
		slog.Uint64("transcribed", stats.Processed),
		slog.Uint64("transcription_failures", stats.Failed),
		slog.Uint64("violations", stats.Violations),
		slog.Uint64("removals", status.Removals),
	)

	logger.Info("Service stopped")
	return err
}

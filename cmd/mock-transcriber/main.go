// Command mock-transcriber serves a fixed transcript on /transcribe so the
// http transcription backend can be exercised without a speech model.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

func main() {
	var (
		addr    string
		text    string
		speaker string
		delay   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock-transcriber",
		Short: "Serve a fixed transcript for every uploaded WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

			mux := http.NewServeMux()
			mux.Handle("/transcribe", newHandler(logger, text, speaker, delay))

			logger.Info("Mock transcription server starting",
				slog.String("address", addr),
				slog.String("endpoint", "http://"+addr+"/transcribe"),
			)
			return http.ListenAndServe(addr, mux)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:9000", "Listen address")
	cmd.Flags().StringVar(&text, "text", "this is a test transcription", "Transcript returned for every request")
	cmd.Flags().StringVar(&speaker, "speaker", "", "Speaker label of the returned segment")
	cmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "Simulated processing time")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newHandler(logger *slog.Logger, text, speaker string, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		info, err := audio.GetWAVInfo(data)
		if err != nil {
			http.Error(w, "Not a WAV file", http.StatusBadRequest)
			return
		}

		logger.Info("Transcription request received",
			slog.String("request_id", r.FormValue("request_id")),
			slog.String("service", r.FormValue("service_name")),
			slog.String("filename", header.Filename),
			slog.Int("bytes", len(data)),
			slog.Float64("duration", info.Duration),
		)

		if delay > 0 {
			time.Sleep(delay)
		}

		response := transcription.TranscriptionResponse{
			Text:     text,
			Language: "en",
			Duration: info.Duration,
			Segments: []transcription.Segment{{
				Start:   0,
				End:     info.Duration,
				Text:    text,
				Speaker: speaker,
			}},
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			out := cmd.OutOrStdout()
			ok := true
			report := func(name string, passed bool, detail string) {
				mark := "ok"
				if !passed {
					mark = "FAIL"
					ok = false
				}
				fmt.Fprintf(out, "[%s] %s: %s\n", mark, name, detail)
			}

			report("config", true, *configPath)

			if cfg.Converter.Backend == "ffmpeg" {
				if path, err := exec.LookPath(cfg.Converter.FFmpegPath); err != nil {
					report("ffmpeg", false, err.Error())
				} else {
					report("ffmpeg", true, path)
				}
			}

			if cfg.Transcription.Backend == "command" {
				if path, err := exec.LookPath(cfg.Transcription.Command); err != nil {
					report("transcriber", false, err.Error())
				} else {
					report("transcriber", true, path)
				}
			} else {
				report("transcriber", true, cfg.Transcription.Endpoint)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			rooms, err := newPlatform(cfg, logger).Rooms(ctx)
			if err != nil {
				report("livekit", false, err.Error())
			} else {
				report("livekit", true, fmt.Sprintf("%d rooms visible", len(rooms)))
				for _, room := range rooms {
					fmt.Fprintf(out, "      %s\n", room)
				}
			}

			if !ok {
				return fmt.Errorf("some prerequisites are missing")
			}
			return nil
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-moderation-service/internal/audio"
	"github.com/skypro1111/voice-moderation-service/internal/moderation"
)

func newTranscribeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <wav>",
		Short: "Transcribe one WAV file and evaluate it against the denylist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			wavPath := args[0]
			if _, err := os.Stat(wavPath); err != nil {
				return fmt.Errorf("cannot read %s: %w", wavPath, err)
			}

			transcriber, err := newTranscriber(cfg, logger, nil)
			if err != nil {
				return fmt.Errorf("failed to create transcriber: %w", err)
			}

			// only remove a mono intermediate this run created
			monoPath := audio.MonoPath(wavPath)
			if _, err := os.Stat(monoPath); errors.Is(err, fs.ErrNotExist) {
				defer os.Remove(monoPath)
			}

			utterances, err := transcriber.Transcribe(cmd.Context(), wavPath)
			if err != nil && len(utterances) == 0 {
				return err
			}

			policy := moderation.NewDenylist(cfg.Moderation.Denylist)
			out := cmd.OutOrStdout()
			for _, u := range utterances {
				verdict := policy.Evaluate(u.Text)
				fmt.Fprintf(out, "%s: %s\n", u.Speaker, u.Text)
				if verdict.Violates {
					fmt.Fprintf(out, "  violation: %v\n", verdict.MatchedTerms)
				}
			}

			return err
		},
	}
}

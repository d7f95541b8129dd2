package transcription

import (
	"context"
	"fmt"
)

// Utterance is one unit of transcribed speech
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Transcriber converts a WAV file into utterances
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) ([]Utterance, error)
}

// Preparer derives the file actually handed to the recognizer
type Preparer interface {
	Prepare(wavPath string) (string, error)
}

// TranscriptionError reports a failed transcription. ExitCode is -1 when no process exit code exists.
type TranscriptionError struct {
	WavPath  string
	ExitCode int
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription of %s failed (exit code %d): %v", e.WavPath, e.ExitCode, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

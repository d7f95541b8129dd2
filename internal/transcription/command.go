package transcription

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// voskPrefix marks recognizer result lines printed by the transcription script
const voskPrefix = "Transcription Output:"

// maxLineBytes bounds a single stdout line
const maxLineBytes = 1024 * 1024

// Command runs an external recognizer with the WAV path as its last argument.
// Every non-empty stdout line is one utterance.
type Command struct {
	logger   *slog.Logger
	name     string
	args     []string
	timeout  time.Duration
	preparer Preparer
}

// NewCommand creates a subprocess transcriber. preparer may be nil.
func NewCommand(logger *slog.Logger, name string, args []string, timeout time.Duration, preparer Preparer) *Command {
	return &Command{
		logger:   logger,
		name:     name,
		args:     args,
		timeout:  timeout,
		preparer: preparer,
	}
}

// Transcribe runs the recognizer to completion. Utterances read before a
// non-zero exit are returned together with the error.
func (c *Command) Transcribe(ctx context.Context, wavPath string) ([]Utterance, error) {
	input := wavPath
	if c.preparer != nil {
		prepared, err := c.preparer.Prepare(wavPath)
		if err != nil {
			return nil, &TranscriptionError{WavPath: wavPath, ExitCode: -1, Err: err}
		}
		input = prepared
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(c.args)+1)
	args = append(args, c.args...)
	args = append(args, input)

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, c.name, args...)
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &TranscriptionError{WavPath: wavPath, ExitCode: -1, Err: fmt.Errorf("failed to open stdout: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &TranscriptionError{WavPath: wavPath, ExitCode: -1, Err: fmt.Errorf("failed to start %s: %w", c.name, err)}
	}

	parser := &outputParser{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		c.logger.Debug("Transcription Output", slog.String("line", line))
		parser.Feed(line)
	}
	scanErr := scanner.Err()
	utterances := parser.Finish()

	waitErr := cmd.Wait()
	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		c.logger.Error("Transcription failed",
			slog.String("wav_path", wavPath),
			slog.Int("exit_code", exitCode),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return utterances, &TranscriptionError{WavPath: wavPath, ExitCode: exitCode, Err: waitErr}
	}

	if scanErr != nil {
		return utterances, &TranscriptionError{WavPath: wavPath, ExitCode: 0, Err: fmt.Errorf("failed to read output: %w", scanErr)}
	}

	c.logger.Info("Finished transcription",
		slog.String("wav_path", wavPath),
		slog.Int("utterances", len(utterances)),
	)
	return utterances, nil
}

// outputParser turns recognizer stdout into utterances. Vosk results are
// printed as pretty JSON after the prefix and may span several lines.
type outputParser struct {
	utterances []Utterance
	pending    strings.Builder
	inJSON     bool
}

func (p *outputParser) Feed(line string) {
	if p.inJSON {
		p.pending.WriteString("\n")
		p.pending.WriteString(line)
		if json.Valid([]byte(p.pending.String())) {
			p.flushJSON()
		}
		return
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if rest, ok := strings.CutPrefix(line, voskPrefix); ok {
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, "{") {
			p.pending.WriteString(rest)
			p.inJSON = true
			if json.Valid([]byte(rest)) {
				p.flushJSON()
			}
			return
		}
		p.add(rest)
		return
	}

	p.add(line)
}

func (p *outputParser) Finish() []Utterance {
	if p.inJSON {
		// Unterminated result, keep whatever text was printed
		p.add(strings.Join(strings.Fields(p.pending.String()), " "))
		p.pending.Reset()
		p.inJSON = false
	}
	return p.utterances
}

func (p *outputParser) flushJSON() {
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(p.pending.String()), &result); err == nil {
		p.add(result.Text)
	}
	p.pending.Reset()
	p.inJSON = false
}

func (p *outputParser) add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.utterances = append(p.utterances, Utterance{Text: text})
}

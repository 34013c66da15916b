package stt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/container"
	"github.com/rhetoric101/morse-voice-trainer/internal/procgroup"
	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

// execWaitDelay bounds how long Run waits for inherited pipes to close after
// the process group was killed.
const execWaitDelay = 500 * time.Millisecond

// ExecEngine delegates recognition to an external command. The command
// receives a mono WAV file and must print a single JSON result on stdout.
type ExecEngine struct {
	cmd       []string
	modelPath string
	timeout   time.Duration
	log       *slog.Logger
}

// NewExecEngine parses the configured command line.
func NewExecEngine(cfg config.RecognizerConfig, log *slog.Logger) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecEngine{cmd: args, modelPath: cfg.ModelPath, timeout: timeout, log: log}, nil
}

func (e *ExecEngine) Name() string { return "exec" }

func (e *ExecEngine) NewSession(sampleRate int, v *vocab.Vocabulary) (Session, error) {
	if sampleRate <= 0 {
		return nil, &EngineError{Op: "new session", Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}
	return &execSession{engine: e, sampleRate: sampleRate, vocabulary: v}, nil
}

func (e *ExecEngine) Close() error { return nil }

type execSession struct {
	engine     *ExecEngine
	sampleRate int
	vocabulary *vocab.Vocabulary
	pcm        bytes.Buffer
	finalized  bool
	closer     closeOnce
}

func (s *execSession) Feed(pcm []byte) (bool, error) {
	if s.finalized {
		return false, &EngineError{Op: "feed", Err: errFinalized}
	}
	if len(pcm)%2 != 0 {
		return false, &EngineError{Op: "feed", Err: fmt.Errorf("pcm payload not aligned")}
	}
	s.pcm.Write(pcm)
	return false, nil
}

func (s *execSession) FinalResult() (Transcript, error) {
	if s.finalized {
		return Transcript{}, &EngineError{Op: "final result", Err: errFinalized}
	}
	s.finalized = true

	file, err := os.CreateTemp("", "morse_stt_*.wav")
	if err != nil {
		return Transcript{}, &EngineError{Op: "final result", Err: fmt.Errorf("temp file: %w", err)}
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := container.WritePCM(file, s.pcm.Bytes(), s.sampleRate, 1); err != nil {
		return Transcript{}, &EngineError{Op: "final result", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.engine.timeout)
	defer cancel()

	base := s.engine.cmd[0]
	args := append([]string{}, s.engine.cmd[1:]...)
	args = append(args, "--audio", file.Name(), "--sample-rate", strconv.Itoa(s.sampleRate))
	if s.engine.modelPath != "" {
		args = append(args, "--model", s.engine.modelPath)
	}
	if s.vocabulary != nil {
		args = append(args, "--grammar", s.vocabulary.Grammar())
	}

	command := exec.CommandContext(ctx, base, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	procgroup.Configure(command)
	command.WaitDelay = execWaitDelay
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return Transcript{}, &EngineError{Op: "final result", Err: fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())}
	}

	t, err := ParseResult(stdout.Bytes())
	if err != nil {
		return Transcript{}, &EngineError{Op: "final result", Err: err}
	}
	return t, nil
}

func (s *execSession) Close() error {
	return s.closer.do(func() error {
		s.pcm.Reset()
		return nil
	})
}

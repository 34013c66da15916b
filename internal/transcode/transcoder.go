// Package transcode converts arbitrary compressed uploads into canonical
// 16-bit mono PCM WAV by running an external converter (ffmpeg).
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
)

// Invoker runs the configured converter once per Job.
type Invoker struct {
	cmd         []string
	sampleRate  int
	timeout     time.Duration
	gracePeriod time.Duration
	tempDir     string
	log         *slog.Logger
}

func NewInvoker(cfg config.TranscoderConfig, log *slog.Logger) (*Invoker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcoder command is empty")
	}
	return &Invoker{
		cmd:         args,
		sampleRate:  cfg.SampleRate,
		timeout:     cfg.Timeout,
		gracePeriod: cfg.GracePeriod,
		tempDir:     cfg.TempDir,
		log:         log.With(slog.String("component", "transcoder")),
	}, nil
}

// Prepare writes upload into a fresh temp directory. The caller owns the
// returned Job and must call Cleanup.
func (inv *Invoker) Prepare(id string, upload []byte) (*Job, error) {
	return newJob(inv.tempDir, id, upload, inv.log)
}

// Args returns the full argument vector used for job, binary excluded.
func (inv *Invoker) Args(job *Job) []string {
	args := append([]string{}, inv.cmd[1:]...)
	return append(args,
		"-y",
		"-i", job.Input,
		"-ac", "1",
		"-ar", strconv.Itoa(inv.sampleRate),
		"-fflags", "+bitexact",
		"-f", "wav",
		job.Output,
	)
}

// Convert runs the converter for job and returns the output container bytes.
// Cancelling ctx interrupts the process; the configured timeout bounds it.
func (inv *Invoker) Convert(ctx context.Context, job *Job) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	r := newRun(runCtx, inv.cmd[0], inv.Args(job), job.Dir, inv.gracePeriod)
	start := time.Now()
	outcome := r.drive(job.Output)
	inv.log.Debug("transcoder finished",
		slog.String("request_id", job.ID),
		slog.String("state", outcome.state.String()),
		slog.Int("exit_code", outcome.exitCode),
		slog.Duration("duration", time.Since(start)),
	)

	if outcome.failure != nil {
		return nil, outcome.failure
	}
	data, err := os.ReadFile(job.Output)
	if err != nil {
		return nil, &Failure{Reason: ReasonOutputMissing, Output: outcome.output, Err: err}
	}
	return data, nil
}

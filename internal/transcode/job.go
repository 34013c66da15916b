package transcode

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	inputName  = "audio.webm"
	outputName = "audio.wav"
)

// Job is the per-request set of temporary paths. Every path lives under Dir,
// which is freshly created so concurrent jobs never collide.
type Job struct {
	ID     string
	Dir    string
	Input  string
	Output string

	log *slog.Logger
}

func newJob(baseDir, id string, upload []byte, log *slog.Logger) (*Job, error) {
	dir, err := os.MkdirTemp(baseDir, "morse-stt-*")
	if err != nil {
		return nil, &Failure{Reason: ReasonSetup, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	job := &Job{
		ID:     id,
		Dir:    dir,
		Input:  filepath.Join(dir, inputName),
		Output: filepath.Join(dir, outputName),
		log:    log.With(slog.String("request_id", id), slog.String("dir", dir)),
	}
	if err := os.WriteFile(job.Input, upload, 0o600); err != nil {
		job.Cleanup()
		return nil, &Failure{Reason: ReasonSetup, Err: fmt.Errorf("write upload: %w", err)}
	}
	return job, nil
}

// Cleanup removes the input, output and directory. Failures are logged and
// never returned; it is safe to call more than once.
func (j *Job) Cleanup() {
	if j == nil || j.Dir == "" {
		return
	}
	for _, path := range []string{j.Input, j.Output} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.log.Warn("temp file cleanup failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	if err := os.Remove(j.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Stray files left by the transcoder; sweep the whole directory.
		if rmErr := os.RemoveAll(j.Dir); rmErr != nil {
			j.log.Warn("temp dir cleanup failed", slog.String("error", rmErr.Error()))
		}
	}
}

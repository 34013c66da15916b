package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/container"
	"github.com/rhetoric101/morse-voice-trainer/internal/stt"
	"github.com/rhetoric101/morse-voice-trainer/internal/transcode"
	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// wavHeader returns a canonical 44-byte header for 16 kHz mono 16-bit audio.
func wavHeader(t *testing.T) []byte {
	t.Helper()
	return wavHeaderChannels(t, 1)
}

func wavHeaderChannels(t *testing.T, channels int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "header.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create header: %v", err)
	}
	if err := container.WritePCM(f, []byte{0, 0, 0, 0}, 16000, channels); err != nil {
		f.Close()
		t.Fatalf("write header: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	return data[:container.HeaderSize]
}

// fakeFFmpeg writes a converter script that emits the canonical header
// followed by the raw upload, so the recognized PCM equals the upload.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	header := filepath.Join(dir, "header.bin")
	if err := os.WriteFile(header, wavHeader(t), 0o644); err != nil {
		t.Fatalf("write header: %v", err)
	}
	return writeScript(t, fmt.Sprintf(`for last; do :; done; cat %q "$3" > "$last"`, header))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newInvoker(t *testing.T, command string, timeout time.Duration) (*transcode.Invoker, string) {
	t.Helper()
	base := t.TempDir()
	inv, err := transcode.NewInvoker(config.TranscoderConfig{
		Command:     command,
		SampleRate:  16000,
		Timeout:     timeout,
		GracePeriod: 100 * time.Millisecond,
		TempDir:     base,
	}, newLogger())
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	return inv, base
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no residual temp entries, found %d (%s)", len(entries), entries[0].Name())
	}
}

// memTranscoder converts in memory without spawning a process.
type memTranscoder struct {
	header []byte

	mu       sync.Mutex
	uploads  map[string][]byte
	prepared int
}

func newMemTranscoder(t *testing.T) *memTranscoder {
	return &memTranscoder{header: wavHeader(t), uploads: make(map[string][]byte)}
}

func (m *memTranscoder) Prepare(id string, upload []byte) (*transcode.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared++
	m.uploads[id] = upload
	return &transcode.Job{ID: id}, nil
}

func (m *memTranscoder) Convert(_ context.Context, job *transcode.Job) ([]byte, error) {
	m.mu.Lock()
	upload := m.uploads[job.ID]
	delete(m.uploads, job.ID)
	m.mu.Unlock()
	out := append([]byte{}, m.header...)
	return append(out, upload...), nil
}

func (m *memTranscoder) preparedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepared
}

// countingEngine wraps sessions and counts raw Close calls, so a double
// close by the caller is visible even though sessions tolerate it.
type countingEngine struct {
	inner stt.Engine

	mu     sync.Mutex
	opened int
	closes int
	extra  int
}

func newCountingEngine() *countingEngine {
	return &countingEngine{inner: stt.NewMockEngine()}
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) NewSession(sampleRate int, v *vocab.Vocabulary) (stt.Session, error) {
	sess, err := e.inner.NewSession(sampleRate, v)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.opened++
	e.mu.Unlock()
	return &countingSession{Session: sess, engine: e}, nil
}

func (e *countingEngine) Close() error { return nil }

func (e *countingEngine) counts() (opened, closes, extra int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened, e.closes, e.extra
}

type countingSession struct {
	stt.Session
	engine *countingEngine
	closed bool
}

func (s *countingSession) Close() error {
	s.engine.mu.Lock()
	if s.closed {
		s.engine.extra++
	} else {
		s.engine.closes++
	}
	s.closed = true
	s.engine.mu.Unlock()
	return s.Session.Close()
}

// stubEngine lets a test script session behavior.
type stubEngine struct {
	newErr error
	feed   func(pcm []byte) (bool, error)
	closed chan struct{}
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) NewSession(int, *vocab.Vocabulary) (stt.Session, error) {
	if e.newErr != nil {
		return nil, e.newErr
	}
	return &stubSession{engine: e}, nil
}

func (e *stubEngine) Close() error { return nil }

type stubSession struct {
	engine *stubEngine
}

func (s *stubSession) Feed(pcm []byte) (bool, error) {
	if s.engine.feed != nil {
		return s.engine.feed(pcm)
	}
	return true, nil
}

func (s *stubSession) FinalResult() (stt.Transcript, error) {
	return stt.Transcript{Text: "stub"}, nil
}

func (s *stubSession) Close() error {
	if s.engine.closed != nil {
		s.engine.closed <- struct{}{}
	}
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (r *recordingObserver) Observe(_ context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return r.err
}

func (r *recordingObserver) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func newOrchestrator(t *testing.T, tc Transcoder, engine stt.Engine, opts Options) *Orchestrator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = newLogger()
	}
	o, err := NewOrchestrator(tc, engine, nil, opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

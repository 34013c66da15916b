// Package stt owns the long-lived speech model and hands out short-lived
// recognition sessions bound to one sample rate.
package stt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

// Word is per-word timing and confidence, when the engine reports it.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

// Transcript is the final recognition result of one session.
type Transcript struct {
	Text  string `json:"text"`
	Words []Word `json:"result,omitempty"`
}

// Engine is the process-wide recognizer. It is safe for concurrent use;
// sessions are not.
type Engine interface {
	Name() string
	NewSession(sampleRate int, v *vocab.Vocabulary) (Session, error)
	Close() error
}

// Session accepts samples for one utterance. FinalResult may be called once;
// Close must be called exactly once on every path and is a no-op afterwards.
type Session interface {
	// Feed pushes 16-bit PCM. The bool only reports whether the engine
	// considers the segment complete.
	Feed(pcm []byte) (bool, error)
	FinalResult() (Transcript, error)
	Close() error
}

// EngineError wraps failures raised inside the engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return fmt.Sprintf("stt %s: %v", e.Op, e.Err) }

func (e *EngineError) Unwrap() error { return e.Err }

var errFinalized = fmt.Errorf("session already finalized")

// Open loads the engine selected by cfg.Mode. A failure here is fatal for the
// service.
func Open(cfg config.RecognizerConfig, log *slog.Logger) (Engine, error) {
	log = log.With(slog.String("component", "stt"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "vosk":
		return newVoskEngine(cfg, log)
	case "whisper":
		return newWhisperEngine(cfg, log)
	case "exec":
		engine, err := NewExecEngine(cfg, log)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}

// ParseResult decodes an engine JSON result of the form
// {"text": "...", "result": [{"word": ..., "start": ..., "end": ..., "conf": ...}]}.
func ParseResult(raw []byte) (Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return Transcript{}, fmt.Errorf("decode stt result: %w", err)
	}
	return t, nil
}

// closeOnce runs release at most once and remembers its error.
type closeOnce struct {
	once sync.Once
	err  error
}

func (c *closeOnce) do(release func() error) error {
	c.once.Do(func() { c.err = release() })
	return c.err
}

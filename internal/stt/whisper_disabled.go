//go:build !whisper

package stt

import (
	"errors"
	"log/slog"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
)

// ErrWhisperUnavailable is returned when the binary was built without the
// whisper tag.
var ErrWhisperUnavailable = errors.New("whisper support not compiled in; rebuild with -tags whisper")

func newWhisperEngine(_ config.RecognizerConfig, _ *slog.Logger) (Engine, error) {
	return nil, ErrWhisperUnavailable
}

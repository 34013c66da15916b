//go:build !vosk

package stt

import (
	"errors"
	"log/slog"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
)

// ErrVoskUnavailable is returned when the binary was built without the vosk
// tag (libvosk and cgo are required for it).
var ErrVoskUnavailable = errors.New("vosk support not compiled in; rebuild with -tags vosk")

func newVoskEngine(_ config.RecognizerConfig, _ *slog.Logger) (Engine, error) {
	return nil, ErrVoskUnavailable
}

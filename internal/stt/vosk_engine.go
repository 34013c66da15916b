//go:build vosk

package stt

import (
	"errors"
	"fmt"
	"log/slog"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

type voskEngine struct {
	model     *vosk.VoskModel
	modelPath string
	words     bool
	log       *slog.Logger
	closer    closeOnce
}

func newVoskEngine(cfg config.RecognizerConfig, log *slog.Logger) (Engine, error) {
	vosk.SetLogLevel(cfg.EngineLogLevel)
	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", cfg.ModelPath, err)
	}
	log.Info("vosk model loaded", slog.String("model_path", cfg.ModelPath))
	return &voskEngine{model: model, modelPath: cfg.ModelPath, words: cfg.Words, log: log}, nil
}

func (e *voskEngine) Name() string { return "vosk" }

func (e *voskEngine) NewSession(sampleRate int, v *vocab.Vocabulary) (Session, error) {
	var (
		rec *vosk.VoskRecognizer
		err error
	)
	if v != nil {
		rec, err = vosk.NewRecognizerGrm(e.model, float64(sampleRate), v.Grammar())
	} else {
		rec, err = vosk.NewRecognizer(e.model, float64(sampleRate))
	}
	if err != nil {
		return nil, &EngineError{Op: "new recognizer", Err: err}
	}
	if e.words {
		rec.SetWords(1)
	}
	return &voskSession{rec: rec}, nil
}

func (e *voskEngine) Close() error {
	return e.closer.do(func() error {
		e.model.Free()
		e.log.Info("vosk model released", slog.String("model_path", e.modelPath))
		return nil
	})
}

type voskSession struct {
	rec       *vosk.VoskRecognizer
	finalized bool
	closer    closeOnce
}

func (s *voskSession) Feed(pcm []byte) (bool, error) {
	if s.finalized {
		return false, &EngineError{Op: "feed", Err: errFinalized}
	}
	switch s.rec.AcceptWaveform(pcm) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, &EngineError{Op: "feed", Err: errors.New("recognizer rejected waveform")}
	}
}

func (s *voskSession) FinalResult() (Transcript, error) {
	if s.finalized {
		return Transcript{}, &EngineError{Op: "final result", Err: errFinalized}
	}
	s.finalized = true
	t, err := ParseResult([]byte(s.rec.FinalResult()))
	if err != nil {
		return Transcript{}, &EngineError{Op: "final result", Err: err}
	}
	return t, nil
}

func (s *voskSession) Close() error {
	return s.closer.do(func() error {
		s.rec.Free()
		return nil
	})
}

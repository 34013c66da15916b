//go:build whisper

package stt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

const whisperSampleRate = 16000

type whisperEngine struct {
	model     whisper.Model
	modelPath string
	log       *slog.Logger
	closer    closeOnce
}

func newWhisperEngine(cfg config.RecognizerConfig, log *slog.Logger) (Engine, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", cfg.ModelPath, err)
	}
	log.Info("whisper model loaded", slog.String("model_path", cfg.ModelPath))
	return &whisperEngine{model: model, modelPath: cfg.ModelPath, log: log}, nil
}

func (e *whisperEngine) Name() string { return "whisper" }

// NewSession only accepts 16 kHz input. A vocabulary becomes the initial
// prompt, which biases decoding but does not restrict it.
func (e *whisperEngine) NewSession(sampleRate int, v *vocab.Vocabulary) (Session, error) {
	if sampleRate != whisperSampleRate {
		return nil, &EngineError{Op: "new session", Err: fmt.Errorf("whisper requires %d Hz, got %d", whisperSampleRate, sampleRate)}
	}
	ctx, err := e.model.NewContext()
	if err != nil {
		return nil, &EngineError{Op: "new session", Err: err}
	}
	ctx.SetTokenTimestamps(true)
	if v != nil {
		ctx.SetInitialPrompt(strings.Join(v.Words, " "))
	}
	return &whisperSession{ctx: ctx}, nil
}

func (e *whisperEngine) Close() error {
	return e.closer.do(func() error {
		e.log.Info("whisper model released", slog.String("model_path", e.modelPath))
		return e.model.Close()
	})
}

type whisperSession struct {
	ctx       whisper.Context
	samples   []float32
	finalized bool
	closer    closeOnce
}

func (s *whisperSession) Feed(pcm []byte) (bool, error) {
	if s.finalized {
		return false, &EngineError{Op: "feed", Err: errFinalized}
	}
	if len(pcm)%2 != 0 {
		return false, &EngineError{Op: "feed", Err: errors.New("pcm payload not aligned")}
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s.samples = append(s.samples, float32(int16(binary.LittleEndian.Uint16(pcm[i:])))/32768)
	}
	return false, nil
}

func (s *whisperSession) FinalResult() (Transcript, error) {
	if s.finalized {
		return Transcript{}, &EngineError{Op: "final result", Err: errFinalized}
	}
	s.finalized = true
	if len(s.samples) == 0 {
		return Transcript{}, nil
	}
	if err := s.ctx.Process(s.samples, nil, nil, nil); err != nil {
		return Transcript{}, &EngineError{Op: "final result", Err: err}
	}

	var (
		texts  []string
		tokens []tokenPiece
	)
	for {
		seg, err := s.ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Transcript{}, &EngineError{Op: "final result", Err: err}
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			texts = append(texts, text)
		}
		for _, tok := range seg.Tokens {
			tokens = append(tokens, tokenPiece{Text: tok.Text, Start: tok.Start.Seconds(), End: tok.End.Seconds(), P: float64(tok.P)})
		}
	}
	return Transcript{Text: strings.Join(texts, " "), Words: wordsFromTokens(tokens)}, nil
}

func (s *whisperSession) Close() error {
	return s.closer.do(func() error {
		s.samples = nil
		return nil
	})
}

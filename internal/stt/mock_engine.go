package stt

import (
	"fmt"
	"hash"
	"hash/crc32"
	"sync"

	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

// MockEngine needs no model. Silent input yields an empty transcript; anything
// else yields a text derived from the samples, so distinct payloads produce
// distinct transcripts.
type MockEngine struct {
	mu     sync.Mutex
	opened int
	closed int
}

// NewMockEngine returns an engine for tests and local development.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) Name() string { return "mock" }

func (m *MockEngine) NewSession(sampleRate int, v *vocab.Vocabulary) (Session, error) {
	if sampleRate <= 0 {
		return nil, &EngineError{Op: "new session", Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &mockSession{engine: m, vocabulary: v, crc: crc32.NewIEEE()}, nil
}

func (m *MockEngine) Close() error { return nil }

// Sessions reports how many sessions were opened and closed.
func (m *MockEngine) Sessions() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

type mockSession struct {
	engine     *MockEngine
	vocabulary *vocab.Vocabulary
	crc        hash.Hash32
	samples    int
	voiced     bool
	finalized  bool
	closer     closeOnce
}

func (s *mockSession) Feed(pcm []byte) (bool, error) {
	if s.finalized {
		return false, &EngineError{Op: "feed", Err: errFinalized}
	}
	s.crc.Write(pcm)
	s.samples += len(pcm) / 2
	if !s.voiced {
		for _, b := range pcm {
			if b != 0 {
				s.voiced = true
				break
			}
		}
	}
	return false, nil
}

func (s *mockSession) FinalResult() (Transcript, error) {
	if s.finalized {
		return Transcript{}, &EngineError{Op: "final result", Err: errFinalized}
	}
	s.finalized = true
	if !s.voiced {
		return Transcript{Text: ""}, nil
	}
	sum := s.crc.Sum32()
	if s.vocabulary != nil && len(s.vocabulary.Words) > 0 {
		w := s.vocabulary.Words[int(sum%uint32(len(s.vocabulary.Words)))]
		return Transcript{Text: w, Words: []Word{{Word: w, Conf: 1}}}, nil
	}
	text := fmt.Sprintf("mock %08x", sum)
	return Transcript{Text: text}, nil
}

func (s *mockSession) Close() error {
	return s.closer.do(func() error {
		s.engine.mu.Lock()
		s.engine.closed++
		s.engine.mu.Unlock()
		return nil
	})
}

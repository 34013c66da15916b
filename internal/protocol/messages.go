package protocol

import "time"

// WordTiming mirrors the engine's per-word result.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

// TranscriptFinal is broadcast after a successful transcription.
type TranscriptFinal struct {
	RequestID  string       `json:"request_id"`
	Text       string       `json:"text"`
	Words      []WordTiming `json:"words,omitempty"`
	Vocabulary string       `json:"vocabulary,omitempty"`
	DurationMS int64        `json:"duration_ms"`
	Timestamp  time.Time    `json:"timestamp"`
}

// TranscriptFailed is broadcast when a request ends with a typed error.
type TranscriptFailed struct {
	RequestID  string    `json:"request_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Vocabulary string    `json:"vocabulary,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal  = "voice.transcript.final"
	SubjectTranscriptFailed = "voice.transcript.failed"
)

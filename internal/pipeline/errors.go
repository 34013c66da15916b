package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable classification of a failed transcription.
type Kind string

const (
	KindEmptyUpload        Kind = "EmptyUpload"
	KindUnknownVocabulary  Kind = "UnknownVocabulary"
	KindUploadTooLarge     Kind = "UploadTooLarge"
	KindMalformedContainer Kind = "MalformedContainer"
	KindTranscodeFailure   Kind = "TranscodeFailure"
	KindTranscodeTimeout   Kind = "TranscodeTimeout"
	KindEngineFailure      Kind = "EngineFailure"
	KindInternal           Kind = "InternalError"
)

// Error is the only error type returned by Orchestrator.Transcribe. Message
// is stable per failure; Detail carries diagnostics such as captured
// converter output or byte counts.
type Error struct {
	Kind      Kind
	Message   string
	Detail    string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to a response status: 4xx for rejected input,
// 5xx for conversion and engine failures.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindEmptyUpload, KindUnknownVocabulary:
		return http.StatusBadRequest
	case KindUploadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindMalformedContainer:
		return http.StatusUnprocessableEntity
	case KindTranscodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds a typed error. It is exported for the HTTP layer, which
// raises UploadTooLarge before the orchestrator runs.
func NewError(kind Kind, message, detail string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail, Err: cause}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

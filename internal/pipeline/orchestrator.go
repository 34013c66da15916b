// Package pipeline sequences one upload through conversion, header stripping
// and recognition, and maps every failure onto a typed Error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhetoric101/morse-voice-trainer/internal/container"
	"github.com/rhetoric101/morse-voice-trainer/internal/stt"
	"github.com/rhetoric101/morse-voice-trainer/internal/transcode"
	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

// Transcoder converts an upload into container bytes inside a request-scoped
// job directory.
type Transcoder interface {
	Prepare(id string, upload []byte) (*transcode.Job, error)
	Convert(ctx context.Context, job *transcode.Job) ([]byte, error)
}

// Vocabularies resolves a vocabulary name; "" means unconstrained.
type Vocabularies interface {
	Lookup(name string) (*vocab.Vocabulary, bool)
}

// TranscribeRequest is one upload. The orchestrator owns Upload until
// Transcribe returns.
type TranscribeRequest struct {
	Upload     []byte
	Vocabulary string
}

// Result is a successful transcription.
type Result struct {
	RequestID   string
	Transcript  stt.Transcript
	UploadBytes int
	PCMBytes    int
	Complete    bool
	Duration    time.Duration
}

// Outcome summarizes a finished request for observers. Transcript is nil on
// failure.
type Outcome struct {
	RequestID         string
	Kind              Kind
	Message           string
	Vocabulary        string
	UploadBytes       int
	PCMBytes          int
	Transcript        *stt.Transcript
	TranscodeDuration time.Duration
	RecognizeDuration time.Duration
	Duration          time.Duration
	FinishedAt        time.Time
}

// OK reports whether the request succeeded.
func (o Outcome) OK() bool { return o.Kind == "" }

// Observer is notified once per finished request, after the result is fixed.
type Observer interface {
	Observe(ctx context.Context, o Outcome) error
}

// Options tunes an Orchestrator.
type Options struct {
	RecognizeTimeout time.Duration
	Observers        []Observer
	Logger           *slog.Logger
	NewID            func() string
}

// Orchestrator runs the transcription pipeline. It is safe for concurrent use;
// every call gets its own job directory and recognition session.
type Orchestrator struct {
	transcoder       Transcoder
	engine           stt.Engine
	vocabularies     Vocabularies
	recognizeTimeout time.Duration
	observers        []Observer
	newID            func() string
	log              *slog.Logger
	tracer           trace.Tracer
	metrics          *instruments
	sessions         sync.WaitGroup
}

func NewOrchestrator(tc Transcoder, engine stt.Engine, vocabularies Vocabularies, opts Options) (*Orchestrator, error) {
	if tc == nil || engine == nil {
		return nil, errors.New("pipeline requires a transcoder and an engine")
	}
	metrics, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("create pipeline instruments: %w", err)
	}
	o := &Orchestrator{
		transcoder:       tc,
		engine:           engine,
		vocabularies:     vocabularies,
		recognizeTimeout: opts.RecognizeTimeout,
		observers:        opts.Observers,
		newID:            opts.NewID,
		log:              opts.Logger,
		tracer:           otel.Tracer(instrumentationName),
		metrics:          metrics,
	}
	if o.recognizeTimeout <= 0 {
		o.recognizeTimeout = 30 * time.Second
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With(slog.String("component", "pipeline"))
	return o, nil
}

// Transcribe runs one upload to completion. Every returned error is an *Error
// carrying the request id.
func (o *Orchestrator) Transcribe(ctx context.Context, req TranscribeRequest) (res Result, err error) {
	id := o.newID()
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline.transcribe", trace.WithAttributes(
		attribute.String("request_id", id),
		attribute.Int("upload.bytes", len(req.Upload)),
		attribute.String("vocabulary", req.Vocabulary),
	))
	out := Outcome{RequestID: id, Vocabulary: req.Vocabulary, UploadBytes: len(req.Upload)}

	defer func() {
		if p := recover(); p != nil {
			o.log.Error("pipeline panic",
				slog.String("request_id", id),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res = Result{}
			err = NewError(KindInternal, "internal error", fmt.Sprint(p), nil)
		}
		var perr *Error
		if err != nil && !errors.As(err, &perr) {
			perr = NewError(KindInternal, "internal error", err.Error(), err)
		}
		if perr != nil {
			perr.RequestID = id
			err = perr
			out.Kind = perr.Kind
			out.Message = perr.Message
		} else {
			res.RequestID = id
			res.UploadBytes = len(req.Upload)
			res.Duration = time.Since(start)
			transcript := res.Transcript
			out.Transcript = &transcript
		}
		out.Duration = time.Since(start)
		out.FinishedAt = time.Now().UTC()
		o.finish(ctx, span, out, perr)
	}()

	return o.transcribe(ctx, id, req, &out)
}

func (o *Orchestrator) transcribe(ctx context.Context, id string, req TranscribeRequest, out *Outcome) (Result, error) {
	if len(req.Upload) == 0 {
		return Result{}, NewError(KindEmptyUpload, "empty upload", "bytes=0", nil)
	}

	var v *vocab.Vocabulary
	if req.Vocabulary != "" {
		var ok bool
		if o.vocabularies != nil {
			v, ok = o.vocabularies.Lookup(req.Vocabulary)
		}
		if !ok {
			return Result{}, NewError(KindUnknownVocabulary, "unknown vocabulary", req.Vocabulary, nil)
		}
	}

	job, err := o.transcoder.Prepare(id, req.Upload)
	if err != nil {
		return Result{}, transcodeError(err)
	}
	defer job.Cleanup()

	stageStart := time.Now()
	wavBytes, err := o.transcoder.Convert(ctx, job)
	out.TranscodeDuration = time.Since(stageStart)
	o.metrics.recordStage(ctx, "transcode", out.TranscodeDuration)
	if err != nil {
		return Result{}, transcodeError(err)
	}

	pcm, err := container.Parse(wavBytes)
	if err == nil {
		err = pcm.Expect(1, 16)
	}
	if err != nil {
		var malformed *container.MalformedError
		if errors.As(err, &malformed) {
			return Result{}, NewError(KindMalformedContainer, "malformed container",
				fmt.Sprintf("%s: bytes=%d", malformed.Reason, malformed.Length), err)
		}
		return Result{}, NewError(KindInternal, "internal error", err.Error(), err)
	}
	out.PCMBytes = pcm.Len()

	stageStart = time.Now()
	rec := o.recognize(ctx, pcm, v)
	out.RecognizeDuration = time.Since(stageStart)
	o.metrics.recordStage(ctx, "recognize", out.RecognizeDuration)
	if rec.err != nil {
		return Result{}, rec.err
	}

	return Result{
		Transcript: rec.transcript,
		PCMBytes:   pcm.Len(),
		Complete:   rec.complete,
	}, nil
}

type recognition struct {
	transcript stt.Transcript
	complete   bool
	err        error
}

// recognize bounds feed and finalize by the recognize timeout. The session is
// owned and closed by the goroutine that uses it, so a timed-out session is
// still released exactly once.
func (o *Orchestrator) recognize(ctx context.Context, pcm container.PCM, v *vocab.Vocabulary) recognition {
	ctx, cancel := context.WithTimeout(ctx, o.recognizeTimeout)
	defer cancel()

	done := make(chan recognition, 1)
	o.sessions.Add(1)
	go func() {
		defer o.sessions.Done()
		done <- o.runSession(pcm, v)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return recognition{err: NewError(KindTranscodeTimeout, "recognition timed out",
				fmt.Sprintf("limit=%s", o.recognizeTimeout), ctx.Err())}
		}
		return recognition{err: NewError(KindEngineFailure, "recognition interrupted", ctx.Err().Error(), ctx.Err())}
	}
}

// WaitIdle blocks until every recognition goroutine, including ones abandoned
// after a timeout, has returned, or until ctx ends.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		o.sessions.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runSession(pcm container.PCM, v *vocab.Vocabulary) (r recognition) {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("recognition panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			r = recognition{err: NewError(KindInternal, "internal error", fmt.Sprint(p), nil)}
		}
	}()

	sess, err := o.engine.NewSession(pcm.SampleRate, v)
	if err != nil {
		return recognition{err: engineError(err)}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			o.log.Warn("failed to close recognition session", slog.String("error", err.Error()))
		}
	}()

	complete, err := sess.Feed(pcm.Samples)
	if err != nil {
		return recognition{err: engineError(err)}
	}
	transcript, err := sess.FinalResult()
	if err != nil {
		return recognition{err: engineError(err)}
	}
	return recognition{transcript: transcript, complete: complete}
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, out Outcome, perr *Error) {
	defer span.End()

	outcome := "ok"
	if perr != nil {
		outcome = string(perr.Kind)
		span.SetStatus(codes.Error, perr.Message)
		span.SetAttributes(attribute.String("error.kind", outcome))
		o.log.Warn("transcription failed",
			slog.String("request_id", out.RequestID),
			slog.String("kind", outcome),
			slog.String("error", perr.Message),
			slog.String("detail", perr.Detail),
			slog.Duration("duration", out.Duration),
		)
	} else {
		span.SetAttributes(attribute.Int("pcm.bytes", out.PCMBytes))
		o.log.Info("transcription completed",
			slog.String("request_id", out.RequestID),
			slog.Int("upload_bytes", out.UploadBytes),
			slog.Int("pcm_bytes", out.PCMBytes),
			slog.Duration("duration", out.Duration),
		)
	}
	o.metrics.recordOutcome(ctx, outcome)

	for _, obs := range o.observers {
		if err := obs.Observe(ctx, out); err != nil {
			o.log.Warn("outcome observer failed",
				slog.String("request_id", out.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func transcodeError(err error) *Error {
	var f *transcode.Failure
	if !errors.As(err, &f) {
		return NewError(KindInternal, "internal error", err.Error(), err)
	}
	detail := f.Error()
	if out := strings.TrimSpace(f.Output); out != "" {
		detail += ": " + out
	}
	switch f.Reason {
	case transcode.ReasonSetup:
		return NewError(KindInternal, "could not prepare transcode job", detail, err)
	case transcode.ReasonTimeout:
		return NewError(KindTranscodeTimeout, "transcode timed out", detail, err)
	case transcode.ReasonInterrupted:
		return NewError(KindTranscodeFailure, "transcode interrupted", detail, err)
	default:
		return NewError(KindTranscodeFailure, "transcode failed", detail, err)
	}
}

func engineError(err error) *Error {
	return NewError(KindEngineFailure, "recognition failed", err.Error(), err)
}

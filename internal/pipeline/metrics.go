package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rhetoric101/morse-voice-trainer/internal/pipeline"

type instruments struct {
	transcriptions metric.Int64Counter
	stageDuration  metric.Float64Histogram
	busy           metric.Int64UpDownCounter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	transcriptions, err := meter.Int64Counter("morse.transcriptions",
		metric.WithDescription("Completed transcription requests by outcome"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("morse.stage.duration",
		metric.WithDescription("Time spent per pipeline stage"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	busy, err := meter.Int64UpDownCounter("morse.pool.busy",
		metric.WithDescription("Workers currently running a transcription"))
	if err != nil {
		return nil, err
	}
	return &instruments{transcriptions: transcriptions, stageDuration: stageDuration, busy: busy}, nil
}

func (m *instruments) recordStage(ctx context.Context, stage string, d time.Duration) {
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *instruments) recordOutcome(ctx context.Context, outcome string) {
	m.transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

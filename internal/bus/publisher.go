package bus

import (
	"context"

	"github.com/rhetoric101/morse-voice-trainer/internal/pipeline"
	"github.com/rhetoric101/morse-voice-trainer/internal/protocol"
)

// OutcomePublisher broadcasts finished transcriptions. It satisfies
// pipeline.Observer.
type OutcomePublisher struct {
	client *Client
}

func NewOutcomePublisher(client *Client) *OutcomePublisher {
	return &OutcomePublisher{client: client}
}

func (p *OutcomePublisher) Observe(_ context.Context, o pipeline.Outcome) error {
	if p == nil || !p.client.Healthy() {
		return nil
	}
	if !o.OK() {
		return p.client.PublishJSON(protocol.SubjectTranscriptFailed, protocol.TranscriptFailed{
			RequestID:  o.RequestID,
			Kind:       string(o.Kind),
			Message:    o.Message,
			Vocabulary: o.Vocabulary,
			DurationMS: o.Duration.Milliseconds(),
			Timestamp:  o.FinishedAt,
		})
	}
	msg := protocol.TranscriptFinal{
		RequestID:  o.RequestID,
		Vocabulary: o.Vocabulary,
		DurationMS: o.Duration.Milliseconds(),
		Timestamp:  o.FinishedAt,
	}
	if o.Transcript != nil {
		msg.Text = o.Transcript.Text
		for _, w := range o.Transcript.Words {
			msg.Words = append(msg.Words, protocol.WordTiming{Word: w.Word, Start: w.Start, End: w.End, Conf: w.Conf})
		}
	}
	return p.client.PublishJSON(protocol.SubjectTranscriptFinal, msg)
}

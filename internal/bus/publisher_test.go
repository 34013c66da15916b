package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/natsserver"
	"github.com/rhetoric101/morse-voice-trainer/internal/pipeline"
	"github.com/rhetoric101/morse-voice-trainer/internal/protocol"
	"github.com/rhetoric101/morse-voice-trainer/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func subscribe(t *testing.T, client *Client, subject string) chan *nats.Msg {
	t.Helper()
	ch := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe(subject, ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch chan *nats.Msg, v any) {
	t.Helper()
	select {
	case msg := <-ch:
		if err := json.Unmarshal(msg.Data, v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishFinalTranscript(t *testing.T) {
	client := startBus(t)
	ch := subscribe(t, client, protocol.SubjectTranscriptFinal)

	pub := NewOutcomePublisher(client)
	err := pub.Observe(context.Background(), pipeline.Outcome{
		RequestID:  "req-1",
		Vocabulary: "phonetic",
		Transcript: &stt.Transcript{Text: "alfa", Words: []stt.Word{{Word: "alfa", Start: 0.1, End: 0.4, Conf: 0.9}}},
		Duration:   250 * time.Millisecond,
		FinishedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}

	var got protocol.TranscriptFinal
	receive(t, ch, &got)
	if got.RequestID != "req-1" || got.Text != "alfa" || len(got.Words) != 1 || got.DurationMS != 250 {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestPublishFailure(t *testing.T) {
	client := startBus(t)
	ch := subscribe(t, client, protocol.SubjectTranscriptFailed)

	pub := NewOutcomePublisher(client)
	err := pub.Observe(context.Background(), pipeline.Outcome{
		RequestID: "req-2",
		Kind:      pipeline.KindMalformedContainer,
		Message:   "malformed container",
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}

	var got protocol.TranscriptFailed
	receive(t, ch, &got)
	if got.Kind != "MalformedContainer" || got.Message != "malformed container" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	var pub *OutcomePublisher
	if err := pub.Observe(context.Background(), pipeline.Outcome{RequestID: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/container"
	"github.com/rhetoric101/morse-voice-trainer/internal/pipeline"
	"github.com/rhetoric101/morse-voice-trainer/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSubmitter struct {
	got pipeline.TranscribeRequest
	res pipeline.Result
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, req pipeline.TranscribeRequest) (pipeline.Result, error) {
	f.got = req
	return f.res, f.err
}

func newTestRuntime(sub Submitter) *Runtime {
	r := New(config.Default(), newLogger())
	r.transcriber = sub
	return r
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestTranscribeSuccessResponse(t *testing.T) {
	sub := &fakeSubmitter{res: pipeline.Result{
		RequestID:  "req-1",
		Transcript: stt.Transcript{Text: "cq", Words: []stt.Word{{Word: "cq", Start: 0.2, End: 0.6, Conf: 1}}},
	}}
	h := newTestRuntime(sub).routes()

	req := httptest.NewRequest(http.MethodPost, "/transcribe?vocabulary=training", strings.NewReader("webm-bytes"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if string(sub.got.Upload) != "webm-bytes" || sub.got.Vocabulary != "training" {
		t.Fatalf("unexpected submitted request %+v", sub.got)
	}
	var body struct {
		OK         bool           `json:"ok"`
		RequestID  string         `json:"request_id"`
		Transcript stt.Transcript `json:"transcript"`
	}
	decode(t, rec, &body)
	if !body.OK || body.RequestID != "req-1" || body.Transcript.Text != "cq" || len(body.Transcript.Words) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header on response")
	}
}

func TestTranscribeErrorResponse(t *testing.T) {
	perr := pipeline.NewError(pipeline.KindMalformedContainer, "malformed container", "wav too small: bytes=40", nil)
	perr.RequestID = "req-2"
	h := newTestRuntime(&fakeSubmitter{err: perr}).routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("x")))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["ok"] != false || body["error"] != "malformed container" || body["detail"] != "wav too small: bytes=40" ||
		body["kind"] != "MalformedContainer" || body["request_id"] != "req-2" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestTranscribeMethodHandling(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestRuntime(sub).routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transcribe", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["ok"] != false {
		t.Fatalf("expected ok=false, got %v", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/transcribe", nil))
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 204 preflight, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != "GET, POST, OPTIONS" {
		t.Fatal("expected CORS methods on preflight")
	}
	if sub.got.Upload != nil {
		t.Fatal("no transcription should be submitted for GET or OPTIONS")
	}
}

func TestTranscribeUploadCeiling(t *testing.T) {
	sub := &fakeSubmitter{}
	r := newTestRuntime(sub)
	r.cfg.HTTP.MaxUploadBytes = 8
	h := r.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("0123456789")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["kind"] != "UploadTooLarge" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestTranscribeDefaultVocabulary(t *testing.T) {
	sub := &fakeSubmitter{}
	r := newTestRuntime(sub)
	r.cfg.Recognizer.Vocabulary = "phonetic"
	r.routes().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("x")))
	if sub.got.Vocabulary != "phonetic" {
		t.Fatalf("expected default vocabulary, got %q", sub.got.Vocabulary)
	}
}

func TestPoolClosedIsUnavailable(t *testing.T) {
	h := newTestRuntime(&fakeSubmitter{err: pipeline.ErrPoolClosed}).routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("x")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAuxiliaryEndpoints(t *testing.T) {
	h := newTestRuntime(&fakeSubmitter{}).routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "pong\n" {
		t.Fatalf("unexpected ping response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST /ping, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hello morse")))
	if rec.Body.String() != "hello morse" {
		t.Fatalf("unexpected echo %q", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/upload-audio", bytes.NewReader(make([]byte, 321)))
	req.Header.Set("Content-Type", "audio/webm;codecs=opus")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var upload uploadResponse
	decode(t, rec, &upload)
	if !upload.OK || upload.Bytes != 321 || upload.ContentType != "audio/webm;codecs=opus" {
		t.Fatalf("unexpected upload response %+v", upload)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Morse Voice Trainer") {
		t.Fatalf("unexpected index %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before start, got %d", rec.Code)
	}
}

func TestStaticDirIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>trainer</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	r := newTestRuntime(&fakeSubmitter{})
	r.cfg.HTTP.StaticDir = dir

	rec := httptest.NewRecorder()
	r.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "<h1>trainer</h1>" {
		t.Fatalf("expected static index, got %q", rec.Body.String())
	}
}

// fakeFFmpeg emits a canonical WAV header followed by the raw upload.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "header.wav")
	f, err := os.Create(headerPath)
	if err != nil {
		t.Fatalf("create header: %v", err)
	}
	if err := container.WritePCM(f, []byte{0, 0}, 16000, 1); err != nil {
		t.Fatalf("write header: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(headerPath)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if err := os.WriteFile(headerPath, data[:container.HeaderSize], 0o644); err != nil {
		t.Fatalf("truncate header: %v", err)
	}
	script := filepath.Join(dir, "ffmpeg")
	body := fmt.Sprintf("#!/bin/sh\nfor last; do :; done; cat %q \"$3\" > \"$last\"\n", headerPath)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return script
}

func TestPipelineWiring(t *testing.T) {
	vocabDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(vocabDir, "prosigns.yaml"), []byte("name: prosigns\nwords: [ar, sk, bt]\n"), 0o644); err != nil {
		t.Fatalf("write vocabulary: %v", err)
	}

	cfg := config.Default()
	cfg.Transcoder.Command = fakeFFmpeg(t)
	cfg.Transcoder.TempDir = t.TempDir()
	cfg.Recognizer.Mode = "mock"
	cfg.Recognizer.VocabularyDir = vocabDir
	cfg.Journal.RetentionMode = "persistent"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.ConnectTimeout = 2000

	r := New(cfg, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.initPipeline(ctx); err != nil {
		t.Fatalf("init pipeline: %v", err)
	}
	defer r.teardown(context.Background())

	srv := httptest.NewServer(r.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/transcribe?vocabulary=prosigns", "audio/webm", bytes.NewReader(bytes.Repeat([]byte{9, 1}, 400)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	var body transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	switch body.Transcript.Text {
	case "ar", "sk", "bt":
	default:
		t.Fatalf("transcript %q outside vocabulary", body.Transcript.Text)
	}

	resp2, err := http.Post(srv.URL+"/transcribe", "audio/webm", nil)
	if err != nil {
		t.Fatalf("post empty: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty upload, got %d", resp2.StatusCode)
	}

	entries, err := r.journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 2 || entries[0].Outcome != "EmptyUpload" || entries[1].RequestID != body.RequestID {
		t.Fatalf("unexpected journal entries %+v", entries)
	}
	if !r.busClient.Healthy() {
		t.Fatal("expected bus connection to embedded server")
	}

	tmp, err := os.ReadDir(cfg.Transcoder.TempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(tmp) != 0 {
		t.Fatalf("expected no residual temp entries, found %d", len(tmp))
	}
}

func TestInitFailsWithoutModel(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Mode = "exec"
	cfg.Recognizer.Command = ""
	r := New(cfg, newLogger())
	if err := r.initPipeline(context.Background()); err == nil {
		t.Fatal("expected engine load failure")
	}
	r.teardown(context.Background())
}

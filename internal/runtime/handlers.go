package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rhetoric101/morse-voice-trainer/internal/pipeline"
	"github.com/rhetoric101/morse-voice-trainer/internal/stt"
)

const fallbackPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Morse Voice Trainer</title></head>
<body>
    <h1>Morse Voice Trainer (local)</h1>
    <p>No index.html found. Set http.static_dir to a directory containing one.</p>
</body>
</html>
`

type transcribeResponse struct {
	OK         bool           `json:"ok"`
	RequestID  string         `json:"request_id"`
	Transcript stt.Transcript `json:"transcript"`
}

type errorResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type uploadResponse struct {
	OK          bool   `json:"ok"`
	ContentType string `json:"contentType"`
	Bytes       int    `json:"bytes"`
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", r.handleTranscribe)
	mux.HandleFunc("/ping", r.handlePing)
	mux.HandleFunc("/echo", r.handleEcho)
	mux.HandleFunc("/upload-audio", r.handleUploadAudio)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metricsHandler != nil {
		mux.Handle("/metrics", r.metricsHandler)
	}
	mux.HandleFunc("/", r.handleStatic)
	return withCORS(mux)
}

// withCORS sets permissive CORS headers on every response and answers
// preflight requests with 204 and no body.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Runtime) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST required", Detail: req.Method})
		return
	}

	body, err := r.readBody(w, req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			perr := pipeline.NewError(pipeline.KindUploadTooLarge, "upload too large", "limit="+strconv.FormatInt(tooLarge.Limit, 10), err)
			writePipelineError(w, perr)
			return
		}
		r.logger.Warn("failed to read upload", slog.String("error", err.Error()))
		writePipelineError(w, pipeline.NewError(pipeline.KindInternal, "could not read upload", err.Error(), err))
		return
	}

	vocabulary := req.URL.Query().Get("vocabulary")
	if vocabulary == "" {
		vocabulary = r.cfg.Recognizer.Vocabulary
	}

	res, err := r.transcriber.Submit(req.Context(), pipeline.TranscribeRequest{Upload: body, Vocabulary: vocabulary})
	if err != nil {
		var perr *pipeline.Error
		switch {
		case errors.As(err, &perr):
			writePipelineError(w, perr)
		case errors.Is(err, pipeline.ErrPoolClosed):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service shutting down", Kind: string(pipeline.KindInternal)})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			r.logger.Info("client went away before transcription finished", slog.String("error", err.Error()))
		default:
			writePipelineError(w, pipeline.NewError(pipeline.KindInternal, "internal error", err.Error(), err))
		}
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{OK: true, RequestID: res.RequestID, Transcript: res.Transcript})
}

// readBody buffers the whole request body. http.max_upload_bytes > 0 caps it.
func (r *Runtime) readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	var src io.Reader = req.Body
	if limit := r.cfg.HTTP.MaxUploadBytes; limit > 0 {
		src = http.MaxBytesReader(w, req.Body, limit)
	}
	return io.ReadAll(src)
}

func (r *Runtime) handlePing(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed\n")
		return
	}
	writeText(w, http.StatusOK, "pong\n")
}

func (r *Runtime) handleEcho(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed\n")
		return
	}
	body, err := r.readBody(w, req)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error()+"\n")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (r *Runtime) handleUploadAudio(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST required", Detail: req.Method})
		return
	}
	body, err := r.readBody(w, req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read upload", Detail: err.Error()})
		return
	}
	contentType := req.Header.Get("Content-Type")
	r.logger.Info("upload received",
		slog.String("user_agent", req.UserAgent()),
		slog.String("content_type", contentType),
		slog.Int("bytes", len(body)),
	)
	writeJSON(w, http.StatusOK, uploadResponse{OK: true, ContentType: contentType, Bytes: len(body)})
}

func (r *Runtime) handleStatic(w http.ResponseWriter, req *http.Request) {
	dir := r.cfg.HTTP.StaticDir
	if req.URL.Path == "/" || req.URL.Path == "/index.html" {
		if dir != "" {
			if page, err := os.ReadFile(filepath.Join(dir, "index.html")); err == nil {
				writeHTML(w, page)
				return
			}
		}
		writeHTML(w, []byte(fallbackPage))
		return
	}
	if dir == "" {
		http.NotFound(w, req)
		return
	}
	http.FileServer(http.Dir(dir)).ServeHTTP(w, req)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func writePipelineError(w http.ResponseWriter, perr *pipeline.Error) {
	writeJSON(w, perr.HTTPStatus(), errorResponse{
		Error:     perr.Message,
		Detail:    perr.Detail,
		Kind:      string(perr.Kind),
		RequestID: perr.RequestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func writeHTML(w http.ResponseWriter, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

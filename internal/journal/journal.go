// Package journal keeps per-request outcome metadata in SQLite. It never
// stores audio or transcript text.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/pipeline"
)

const outcomeOK = "ok"

// Entry is one journaled request.
type Entry struct {
	ID                int64
	RequestID         string
	Outcome           string
	Vocabulary        string
	UploadBytes       int
	PCMBytes          int
	WordCount         int
	TranscodeDuration time.Duration
	RecognizeDuration time.Duration
	Duration          time.Duration
	FinishedAt        time.Time
}

// Store is a SQLite-backed outcome journal. In ephemeral mode it holds no
// database and every method is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	log.Info("journal opened", slog.String("path", cfg.Path), slog.String("retention", cfg.RetentionMode))
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    vocabulary TEXT,
    upload_bytes INTEGER NOT NULL,
    pcm_bytes INTEGER NOT NULL,
    word_count INTEGER NOT NULL,
    transcode_ms INTEGER NOT NULL,
    recognize_ms INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_finished ON requests(finished_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether entries are persisted.
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

// Close releases underlying resources.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// Observe records a finished request. It satisfies pipeline.Observer.
func (s *Store) Observe(ctx context.Context, o pipeline.Outcome) error {
	if !s.Enabled() {
		return nil
	}
	outcome := outcomeOK
	if !o.OK() {
		outcome = string(o.Kind)
	}
	words := 0
	if o.Transcript != nil {
		words = len(o.Transcript.Words)
	}
	finished := o.FinishedAt
	if finished.IsZero() {
		finished = s.clock()
	}
	return s.Append(ctx, Entry{
		RequestID:         o.RequestID,
		Outcome:           outcome,
		Vocabulary:        o.Vocabulary,
		UploadBytes:       o.UploadBytes,
		PCMBytes:          o.PCMBytes,
		WordCount:         words,
		TranscodeDuration: o.TranscodeDuration,
		RecognizeDuration: o.RecognizeDuration,
		Duration:          o.Duration,
		FinishedAt:        finished,
	})
}

// Append writes an entry.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if !s.Enabled() {
		return nil
	}
	if e.RequestID == "" {
		return errors.New("journal entry requires a request id")
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(request_id, outcome, vocabulary, upload_bytes, pcm_bytes, word_count,
		     transcode_ms, recognize_ms, duration_ms, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Outcome, e.Vocabulary, e.UploadBytes, e.PCMBytes, e.WordCount,
		e.TranscodeDuration.Milliseconds(), e.RecognizeDuration.Milliseconds(), e.Duration.Milliseconds(),
		e.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, outcome, vocabulary, upload_bytes, pcm_bytes, word_count,
		     transcode_ms, recognize_ms, duration_ms, finished_at
		 FROM requests ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var vocabulary sql.NullString
		var transcodeMS, recognizeMS, totalMS, finishedMS int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Outcome, &vocabulary, &e.UploadBytes, &e.PCMBytes, &e.WordCount,
			&transcodeMS, &recognizeMS, &totalMS, &finishedMS); err != nil {
			return nil, err
		}
		e.Vocabulary = vocabulary.String
		e.TranscodeDuration = time.Duration(transcodeMS) * time.Millisecond
		e.RecognizeDuration = time.Duration(recognizeMS) * time.Millisecond
		e.Duration = time.Duration(totalMS) * time.Millisecond
		e.FinishedAt = time.UnixMilli(finishedMS).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per outcome.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	if !s.Enabled() {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM requests GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// Prune applies the configured retention (called on startup and scheduled by
// the runtime).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE finished_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE id IN (
			SELECT id FROM requests ORDER BY finished_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

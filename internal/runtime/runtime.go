package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhetoric101/morse-voice-trainer/internal/bus"
	"github.com/rhetoric101/morse-voice-trainer/internal/config"
	"github.com/rhetoric101/morse-voice-trainer/internal/journal"
	"github.com/rhetoric101/morse-voice-trainer/internal/natsserver"
	"github.com/rhetoric101/morse-voice-trainer/internal/pipeline"
	"github.com/rhetoric101/morse-voice-trainer/internal/stt"
	"github.com/rhetoric101/morse-voice-trainer/internal/transcode"
	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

const journalPruneInterval = time.Hour

// Submitter runs one transcription on behalf of an HTTP request.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.TranscribeRequest) (pipeline.Result, error)
}

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	metricsHandler http.Handler
	ready          atomic.Bool
	wg             sync.WaitGroup

	engine       stt.Engine
	catalog      *vocab.Catalog
	journal      *journal.Store
	natsServer   *natsserver.EmbeddedServer
	busClient    *bus.Client
	orchestrator *pipeline.Orchestrator
	pool         *pipeline.Pool
	transcriber  Submitter
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the service up and blocks until ctx is cancelled. A model load
// failure is returned immediately and is fatal for the daemon.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry
	r.metricsHandler = metricsHandler

	if err := r.initPipeline(ctx); err != nil {
		r.teardown(context.Background())
		if closeErr := r.telemetryClose(context.Background()); closeErr != nil {
			r.logger.Warn("telemetry shutdown error", slog.String("error", closeErr.Error()))
		}
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if r.journal.Enabled() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.pruneJournal(ctx)
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", r.engine.Name()),
		slog.Any("vocabularies", r.catalog.Names()),
		slog.Int("workers", r.cfg.Pipeline.Workers),
	)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.teardown(shutdownCtx)

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) initPipeline(ctx context.Context) error {
	engine, err := stt.Open(r.cfg.Recognizer, r.logger)
	if err != nil {
		return fmt.Errorf("load recognition engine: %w", err)
	}
	r.engine = engine

	catalog, err := vocab.LoadDir(r.cfg.Recognizer.VocabularyDir)
	if err != nil {
		return fmt.Errorf("load vocabularies: %w", err)
	}
	if _, ok := catalog.Lookup(r.cfg.Recognizer.Vocabulary); !ok {
		return fmt.Errorf("default vocabulary %q not found in %s", r.cfg.Recognizer.Vocabulary, r.cfg.Recognizer.VocabularyDir)
	}
	r.catalog = catalog

	invoker, err := transcode.NewInvoker(r.cfg.Transcoder, r.logger)
	if err != nil {
		return fmt.Errorf("init transcoder: %w", err)
	}

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	r.journal = store
	observers := []pipeline.Observer{store}

	if r.cfg.Bus.Enabled {
		publisher, err := r.connectBus(ctx)
		if err != nil {
			return err
		}
		observers = append(observers, publisher)
	}

	orchestrator, err := pipeline.NewOrchestrator(invoker, engine, catalog, pipeline.Options{
		RecognizeTimeout: r.cfg.Pipeline.RecognizeTimeout,
		Observers:        observers,
		Logger:           r.logger,
	})
	if err != nil {
		return err
	}
	r.orchestrator = orchestrator

	// Jobs run under the runtime context so shutdown interrupts them; a client
	// disconnect does not.
	pool, err := pipeline.NewPool(ctx, orchestrator, r.cfg.Pipeline.Workers, r.cfg.Pipeline.QueueSize, r.logger)
	if err != nil {
		return err
	}
	r.pool = pool
	r.transcriber = pool
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.OutcomePublisher, error) {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		r.natsServer = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, err
	}
	r.busClient = client
	return bus.NewOutcomePublisher(client), nil
}

func (r *Runtime) pruneJournal(ctx context.Context) {
	ticker := time.NewTicker(journalPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.journal.Prune(ctx); err != nil {
				r.logger.Warn("journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// teardown releases everything initPipeline acquired, in reverse order. The
// engine goes last so no session outlives the model.
func (r *Runtime) teardown(ctx context.Context) {
	if r.pool != nil {
		r.pool.Close()
	}
	engineIdle := true
	if r.orchestrator != nil {
		if err := r.orchestrator.WaitIdle(ctx); err != nil {
			engineIdle = false
			r.logger.Warn("recognition still running at shutdown; leaving model loaded", slog.String("error", err.Error()))
		}
	}
	r.busClient.Close()
	r.natsServer.Shutdown()
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("journal close failed", slog.String("error", err.Error()))
		}
	}
	if r.engine != nil && engineIdle {
		if err := r.engine.Close(); err != nil {
			r.logger.Warn("engine close failed", slog.String("error", err.Error()))
		}
	}
}

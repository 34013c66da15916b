package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("transcription pool closed")

// Transcriber is the unit of work a Pool runs.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (Result, error)
}

type task struct {
	req  TranscribeRequest
	done chan taskResult
}

type taskResult struct {
	res Result
	err error
}

// Pool runs at most Workers transcriptions at once. Each request occupies one
// worker for its whole duration.
type Pool struct {
	worker  Transcriber
	tasks   chan task
	base    context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	busy    atomic.Int64
	metrics *instruments
	log     *slog.Logger
}

// NewPool starts workers goroutines. Jobs run under ctx, not under the
// submitting caller's context; cancelling ctx (or calling Close) interrupts
// in-flight work.
func NewPool(ctx context.Context, t Transcriber, workers, queueSize int, log *slog.Logger) (*Pool, error) {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	metrics, err := newInstruments()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(ctx)
	p := &Pool{
		worker:  t,
		tasks:   make(chan task, queueSize),
		base:    base,
		cancel:  cancel,
		metrics: metrics,
		log:     log.With(slog.String("component", "pool")),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	p.log.Info("transcription pool started", slog.Int("workers", workers), slog.Int("queue", queueSize))
	return p, nil
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.busy.Add(1)
		p.metrics.busy.Add(p.base, 1)
		res, err := p.worker.Transcribe(p.base, t.req)
		p.metrics.busy.Add(context.Background(), -1)
		p.busy.Add(-1)
		t.done <- taskResult{res: res, err: err}
	}
}

// Submit enqueues req and waits for its result. If ctx ends first Submit
// returns ctx.Err(); a job already picked up keeps running to completion or
// timeout.
func (p *Pool) Submit(ctx context.Context, req TranscribeRequest) (Result, error) {
	t := task{req: req, done: make(chan taskResult, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return Result{}, ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return Result{}, ctx.Err()
	case <-p.base.Done():
		p.mu.RUnlock()
		return Result{}, ErrPoolClosed
	}

	select {
	case r := <-t.done:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Busy reports how many workers are currently running a job.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Close interrupts in-flight work, drains queued jobs and waits for every
// worker to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
	p.log.Info("transcription pool stopped")
}

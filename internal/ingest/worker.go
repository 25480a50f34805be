package ingest

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/tomibot/ragserver/internal/log"
)

// ErrQueueFull indicates the ingestion queue has no room; the caller
// should ask the client to retry later.
var ErrQueueFull = errors.New("ingestion queue is full")

// Runner executes one ingestion request.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Worker owns the bounded ingestion queue and the pool of goroutines
// draining it. Request failures are logged and dead-lettered by the
// pipeline; they never stop the pool.
type Worker struct {
	runner  Runner
	queue   chan Request
	workers int
	logger  log.Logger
}

// NewWorker creates a worker pool with a queue of queueSize requests.
// logger may be nil.
func NewWorker(runner Runner, queueSize, workers int, logger log.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Worker{
		runner:  runner,
		queue:   make(chan Request, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Submit enqueues a request without blocking. Returns ErrQueueFull when
// the queue is at capacity and the request's validation error when it is
// malformed.
func (w *Worker) Submit(req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	select {
	case w.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued requests until ctx is cancelled, then drains what
// was already accepted before returning.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					w.drain(ctx)
					return nil
				case req := <-w.queue:
					w.process(ctx, req)
				}
			}
		})
	}
	return g.Wait()
}

// drain empties the queue after shutdown began. Accepted requests were
// acknowledged to clients, so they still run, detached from the
// cancelled context.
func (w *Worker) drain(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	for {
		select {
		case req := <-w.queue:
			w.process(detached, req)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, req Request) {
	res, err := w.runner.Run(ctx, req)
	if err != nil {
		w.logger.Error("ingestion request failed",
			"client_id", req.TenantID, "agent_id", req.AgentID,
			"object_key", req.ObjectKey, "error", err)
		return
	}
	w.logger.Info("ingestion request done",
		"client_id", req.TenantID, "agent_id", req.AgentID,
		"chunks", res.IndexedChunks, "prompt_updated", res.PromptUpdated)
}

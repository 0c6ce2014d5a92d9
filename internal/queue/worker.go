package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"graphsync/internal/logging"
)

type Handler func(ctx context.Context, req Request) error

// Worker pops requests one at a time and hands them to a handler.
type Worker struct {
	queue   Queue
	handler Handler
	logger  logging.Logger
	// backoff after a failed pop
	backoff time.Duration
}

func NewWorker(q Queue, handler Handler, logger logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{queue: q, handler: handler, logger: logger, backoff: 3 * time.Second}
}

// Enqueue stamps and pushes a request for source.
func Enqueue(ctx context.Context, q Queue, source, reason string) (Request, error) {
	req := Request{
		ID:          uuid.NewString(),
		Source:      source,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
	return req, q.Push(ctx, req)
}

// Run processes requests until ctx is done. Handler errors are logged and
// do not stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		req, err := w.queue.Pop(ctx)
		switch {
		case errors.Is(err, ErrEmpty):
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			w.logger.Warn("waiting for indexation requests", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}

		w.logger.Info("indexation request received", "source", req.Source, "request", req.ID, "reason", req.Reason)
		if err := w.handler(ctx, req); err != nil {
			w.logger.Error("indexation request failed", "source", req.Source, "request", req.ID, "error", err)
			continue
		}
		w.logger.Info("indexation request done", "source", req.Source, "request", req.ID)
	}
}

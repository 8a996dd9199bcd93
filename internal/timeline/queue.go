package timeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Queue.Record when the buffer is at capacity.
	ErrQueueFull = errors.New("timeline queue full")
	// ErrQueueClosed is returned by Queue.Record after Close.
	ErrQueueClosed = errors.New("timeline queue closed")
)

// Queue hands records to a sink on a single worker goroutine. Record never
// waits for the sink; each delivery gets its own timeout.
type Queue struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Record
	done   chan struct{}
}

// NewQueue starts the worker. size bounds the records waiting for delivery.
func NewQueue(sink Sink, size int, timeout time.Duration, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	q := &Queue{
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan Record, size),
		done:    make(chan struct{}),
	}
	go q.worker()
	return q
}

// Record enqueues rec. The context is not used for delivery, which happens
// after Record has returned.
func (q *Queue) Record(_ context.Context, rec Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.queue <- rec:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth is the number of records waiting for delivery.
func (q *Queue) Depth() int { return len(q.queue) }

// Close stops accepting records and waits until the queued ones have been
// delivered or ctx is done. A nil Queue is a no-op.
func (q *Queue) Close(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer close(q.done)
	for rec := range q.queue {
		q.deliver(rec)
	}
}

func (q *Queue) deliver(rec Record) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.sink.Record(ctx, rec); err != nil {
		q.logger.Warn("record command", "cmd", rec.Command, "err", err)
	}
}

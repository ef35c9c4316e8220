package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
)

// MemoryQueue is a buffered in-process queue. It is not durable; use the SQL
// queue when jobs must survive a restart.
type MemoryQueue struct {
	logger *slog.Logger
	ch     chan Job

	mu     sync.Mutex
	closed bool
}

type Option func(*MemoryQueue)

func WithQueueSize(n int) Option {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func NewMemoryQueue(logger *slog.Logger, opts ...Option) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &MemoryQueue{
		logger: logger,
		ch:     make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.JobID)
		return fmt.Errorf("enqueue %s: %w", job.JobID, common.ErrQueueUnavailable)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued job", "job_id", job.JobID, "deliveries", job.Deliveries)
		return nil
	default:
		q.logger.Warn("queue full, rejecting job", "job_id", job.JobID, "capacity", cap(q.ch))
		return fmt.Errorf("enqueue %s: queue full: %w", job.JobID, common.ErrQueueUnavailable)
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		job.Deliveries++
		return NewDelivery(job, nil, func(_ context.Context, delay time.Duration) error {
			return q.redeliver(job, delay)
		}), nil
	}
}

func (q *MemoryQueue) redeliver(job Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(context.Background(), job)
	}
	time.AfterFunc(delay, func() {
		if err := q.Enqueue(context.Background(), job); err != nil {
			q.logger.Error("redelivery dropped", "job_id", job.JobID, "error", err)
		}
	})
	return nil
}

// Len reports the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. Buffered jobs can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	q.logger.Info("memory queue closed", "pending", len(q.ch))
	return nil
}

package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Dequeue once the queue has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Job is the queue payload: a reference to a stored job record, never the document itself.
type Job struct {
	JobID      uuid.UUID
	EnqueuedAt time.Time
	Deliveries int    // 1 on first delivery
	TraceID    string // request id of the submission
}

// Queue is an at-least-once channel between intake and workers.
type Queue interface {
	// Enqueue must not block on worker progress.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	Close() error
}

// Delivery is one claimed job. Exactly one of Ack or Nack should be called.
type Delivery struct {
	Job  Job
	ack  func(ctx context.Context) error
	nack func(ctx context.Context, delay time.Duration) error
}

func NewDelivery(job Job, ack func(ctx context.Context) error, nack func(ctx context.Context, delay time.Duration) error) *Delivery {
	return &Delivery{Job: job, ack: ack, nack: nack}
}

// Ack removes the job from the queue.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack releases the job so it is delivered again after delay.
func (d *Delivery) Nack(ctx context.Context, delay time.Duration) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx, delay)
}

package async

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/ocr-jobs/internal/async"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
)

// JobProcessor is satisfied by *core.Processor.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID uuid.UUID) error
}

// Pool runs a fixed number of workers, each taking one job at a time from
// the queue and running it to completion before claiming the next.
type Pool struct {
	proc    JobProcessor
	queue   async.Queue
	logger  *slog.Logger
	workers int

	backoff    time.Duration
	maxBackoff time.Duration
	ackTimeout time.Duration
}

type Option func(*Pool)

// WithWorkers sets the worker count. Zero disables consumption.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.workers = n
		}
	}
}

// WithRedeliveryBackoff sets the base and cap of the delay before a job that
// could not be completed is delivered again.
func WithRedeliveryBackoff(base, limit time.Duration) Option {
	return func(p *Pool) {
		if base > 0 {
			p.backoff = base
		}
		if limit > 0 {
			p.maxBackoff = limit
		}
	}
}

func NewPool(proc JobProcessor, queue async.Queue, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		proc:       proc,
		queue:      queue,
		logger:     logger,
		workers:    2,
		backoff:    time.Second,
		maxBackoff: 5 * time.Minute,
		ackTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run blocks until ctx is done or the queue is closed. A job already claimed
// when ctx ends is still run to completion.
func (p *Pool) Run(ctx context.Context) error {
	if p.workers == 0 {
		p.logger.Info("worker pool disabled")
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			return p.work(gctx, workerID)
		})
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped", "workers", p.workers)
	return err
}

func (p *Pool) work(ctx context.Context, workerID int) error {
	log := p.logger.With("worker_id", workerID)
	log.Info("worker started")
	defer log.Info("worker stopped")

	retry := p.backoff
	for {
		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, async.ErrQueueClosed) {
				return nil
			}
			log.Error("dequeue failed", "error", err, "retry_in", retry)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
			retry = min(retry*2, p.maxBackoff)
			continue
		}
		retry = p.backoff
		p.handle(ctx, log, d)
	}
}

func (p *Pool) handle(ctx context.Context, log *slog.Logger, d *async.Delivery) {
	job := d.Job
	log = log.With("job_id", job.JobID, "deliveries", job.Deliveries)

	// shutdown must not cut a job short; the processor bounds it with its own timeout
	jctx := common.WithJobID(context.WithoutCancel(ctx), job.JobID.String())
	if job.TraceID != "" {
		jctx = common.WithRequestID(jctx, job.TraceID)
	}
	start := time.Now()
	err := p.proc.ProcessJob(jctx, job.JobID)

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.ackTimeout)
	defer cancel()
	if err != nil {
		delay := p.redeliveryDelay(job.Deliveries)
		log.Error("job not completed, releasing for redelivery", "error", err, "retry_in", delay)
		if nerr := d.Nack(actx, delay); nerr != nil {
			// the queue lease will expire and redeliver anyway
			log.Error("nack failed", "error", nerr)
		}
		return
	}
	if aerr := d.Ack(actx); aerr != nil {
		log.Error("ack failed", "error", aerr)
		return
	}
	log.Debug("delivery done", "duration_ms", time.Since(start).Milliseconds())
}

func (p *Pool) redeliveryDelay(deliveries int) time.Duration {
	delay := p.backoff
	for i := 1; i < deliveries && delay < p.maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, p.maxBackoff)
}

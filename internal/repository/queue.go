package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/internal/async"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
)

// SQLQueue is a durable async.Queue on the ocr_job_queue table. A claimed
// row stays invisible for the lease duration; if it is neither acked nor
// nacked in that time (worker crash) it is delivered again.
type SQLQueue struct {
	db           *DB
	lease        time.Duration
	pollInterval time.Duration
	batch        int
	now          func() time.Time
	notify       chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	log          *slog.Logger
}

type QueueOption func(*SQLQueue)

func WithLease(d time.Duration) QueueOption {
	return func(q *SQLQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func WithPollInterval(d time.Duration) QueueOption {
	return func(q *SQLQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func NewSQLQueue(db *DB, log *slog.Logger, opts ...QueueOption) *SQLQueue {
	if log == nil {
		log = slog.Default()
	}
	q := &SQLQueue{
		db:           db,
		lease:        10 * time.Minute,
		pollInterval: 500 * time.Millisecond,
		batch:        8,
		now:          time.Now,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		log:          log,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *SQLQueue) Enqueue(ctx context.Context, job async.Job) error {
	now := q.now().UnixNano()
	enqueuedAt := now
	if !job.EnqueuedAt.IsZero() {
		enqueuedAt = job.EnqueuedAt.UnixNano()
	}
	query, args := q.db.builder().Insert(queueTable).
		Columns("job_id", "trace_id", "enqueued_at", "visible_at", "deliveries").
		Values(job.JobID.String(), job.TraceID, enqueuedAt, now, 0).
		OnConflict(entsql.ConflictColumns("job_id"), entsql.DoNothing()).
		Query()
	if _, err := q.db.exec(ctx, query, args); err != nil {
		q.log.Error("enqueue failed", "job_id", job.JobID, "err", err)
		return common.NewAppError(common.CodeQueueUnavailable, "enqueue "+job.JobID.String(), fmt.Errorf("%w: %v", common.ErrQueueUnavailable, err))
	}
	q.wake()
	q.log.Debug("queued job", "job_id", job.JobID)
	return nil
}

func (q *SQLQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue polls for a visible row and claims it. Waiting workers are woken
// early by local enqueues; other processes are picked up on the next poll.
func (q *SQLQueue) Dequeue(ctx context.Context) (*async.Delivery, error) {
	for {
		d, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, async.ErrQueueClosed
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

type queueRow struct {
	jobID      string
	traceID    string
	enqueuedAt int64
	visibleAt  int64
	deliveries int
}

func (q *SQLQueue) tryClaim(ctx context.Context) (*async.Delivery, error) {
	select {
	case <-q.done:
		return nil, async.ErrQueueClosed
	default:
	}
	now := q.now().UnixNano()
	b := q.db.builder()
	query, args := b.Select("job_id", "trace_id", "enqueued_at", "visible_at", "deliveries").
		From(b.Table(queueTable)).
		Where(entsql.LTE("visible_at", now)).
		OrderBy("enqueued_at").
		Limit(q.batch).
		Query()
	rows, err := q.db.query(ctx, query, args)
	if err != nil {
		return nil, q.unavailable("poll", err)
	}
	var candidates []queueRow
	for rows.Next() {
		var r queueRow
		if err := rows.Scan(&r.jobID, &r.traceID, &r.enqueuedAt, &r.visibleAt, &r.deliveries); err != nil {
			_ = rows.Close()
			return nil, q.unavailable("scan", err)
		}
		candidates = append(candidates, r)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, q.unavailable("poll", err)
	}

	for _, c := range candidates {
		leaseUntil := now + q.lease.Nanoseconds()
		query, args := b.Update(queueTable).
			Set("visible_at", leaseUntil).
			Add("deliveries", 1).
			Where(entsql.And(
				entsql.EQ("job_id", c.jobID),
				entsql.EQ("visible_at", c.visibleAt),
			)).
			Query()
		res, err := q.db.exec(ctx, query, args)
		if err != nil {
			return nil, q.unavailable("claim", err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			// another worker claimed it first
			continue
		}
		id, err := uuid.Parse(c.jobID)
		if err != nil {
			q.log.Warn("dropping malformed queue row", "job_id", c.jobID)
			_ = q.remove(ctx, c.jobID, leaseUntil)
			continue
		}
		job := async.Job{
			JobID:      id,
			EnqueuedAt: time.Unix(0, c.enqueuedAt).UTC(),
			Deliveries: c.deliveries + 1,
			TraceID:    c.traceID,
		}
		if job.Deliveries > 1 {
			q.log.Info("redelivering job", "job_id", id, "deliveries", job.Deliveries)
		}
		ack := func(ctx context.Context) error {
			return q.remove(ctx, c.jobID, leaseUntil)
		}
		nack := func(ctx context.Context, delay time.Duration) error {
			return q.release(ctx, c.jobID, leaseUntil, delay)
		}
		return async.NewDelivery(job, ack, nack), nil
	}
	return nil, nil
}

// remove deletes a claimed row while its lease is still ours. A stale
// delivery whose row was re-claimed by another worker removes nothing.
func (q *SQLQueue) remove(ctx context.Context, jobID string, leaseUntil int64) error {
	query, args := q.db.builder().Delete(queueTable).
		Where(entsql.And(
			entsql.EQ("job_id", jobID),
			entsql.EQ("visible_at", leaseUntil),
		)).
		Query()
	if _, err := q.db.exec(ctx, query, args); err != nil {
		return q.unavailable("ack", err)
	}
	return nil
}

// release makes a claimed row visible again, unless its lease already
// expired and another worker re-claimed it.
func (q *SQLQueue) release(ctx context.Context, jobID string, leaseUntil int64, delay time.Duration) error {
	query, args := q.db.builder().Update(queueTable).
		Set("visible_at", q.now().Add(delay).UnixNano()).
		Where(entsql.And(
			entsql.EQ("job_id", jobID),
			entsql.EQ("visible_at", leaseUntil),
		)).
		Query()
	if _, err := q.db.exec(ctx, query, args); err != nil {
		return q.unavailable("nack", err)
	}
	if delay <= 0 {
		q.wake()
	}
	return nil
}

// Len counts queued and in-flight rows.
func (q *SQLQueue) Len(ctx context.Context) (int, error) {
	b := q.db.builder()
	query, args := b.Select(entsql.Count("*")).From(b.Table(queueTable)).Query()
	rows, err := q.db.query(ctx, query, args)
	if err != nil {
		return 0, q.unavailable("count", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, q.unavailable("count", err)
		}
	}
	return n, rows.Err()
}

// Close wakes blocked Dequeue calls. The table and its rows are untouched.
func (q *SQLQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *SQLQueue) unavailable(op string, err error) error {
	q.log.Error("queue "+op+" failed", "err", err)
	return common.NewAppError(common.CodeQueueUnavailable, op, fmt.Errorf("%w: %v", common.ErrQueueUnavailable, err))
}

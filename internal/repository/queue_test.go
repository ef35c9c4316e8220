package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocr-jobs/internal/async"
)

func newTestQueue(t *testing.T, clock *fakeClock, opts ...QueueOption) *SQLQueue {
	q := NewSQLQueue(openTestDB(t), nil, append([]QueueOption{WithPollInterval(5 * time.Millisecond)}, opts...)...)
	if clock != nil {
		q.now = clock.Now
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestSQLQueueEnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, async.Job{JobID: first, TraceID: "req-1", EnqueuedAt: time.Now().Add(-time.Second)}))
	require.NoError(t, q.Enqueue(ctx, async.Job{JobID: second}))
	// duplicate enqueue is a no-op
	require.NoError(t, q.Enqueue(ctx, async.Job{JobID: first}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, d.Job.JobID)
	assert.Equal(t, "req-1", d.Job.TraceID)
	assert.Equal(t, 1, d.Job.Deliveries)
	require.NoError(t, d.Ack(ctx))

	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, d.Job.JobID)
	require.NoError(t, d.Ack(ctx))

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLQueueDequeueBlocks(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSQLQueueWakesOnEnqueue(t *testing.T) {
	q := newTestQueue(t, nil, WithPollInterval(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.New()
	got := make(chan uuid.UUID, 1)
	go func() {
		d, err := q.Dequeue(ctx)
		if err == nil {
			got <- d.Job.JobID
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, async.Job{JobID: id}))

	select {
	case v := <-got:
		assert.Equal(t, id, v)
	case <-ctx.Done():
		t.Fatal("dequeue was not woken by enqueue")
	}
}

func TestSQLQueueLeaseExpiryRedelivers(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock, WithLease(time.Minute))
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, q.Enqueue(ctx, async.Job{JobID: id}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Job.Deliveries)

	// still leased: nothing to deliver
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	_, err = q.Dequeue(short)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the worker "crashed"; once the lease runs out the job comes back
	clock.Advance(2 * time.Minute)
	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, d2.Job.JobID)
	assert.Equal(t, 2, d2.Job.Deliveries)

	// the stale delivery can no longer release the row
	require.NoError(t, d.Nack(ctx, 0))
	short, cancel = context.WithTimeout(ctx, 30*time.Millisecond)
	_, err = q.Dequeue(short)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSQLQueueStaleAckKeepsReclaimedRow(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock, WithLease(time.Minute))
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, q.Enqueue(ctx, async.Job{JobID: id}))

	a, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// A overruns its lease and B picks the job up
	clock.Advance(2 * time.Minute)
	b, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Job.Deliveries)

	require.NoError(t, a.Ack(ctx))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "stale ack must not delete a row another worker holds")

	require.NoError(t, b.Nack(ctx, 0))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, c.Job.JobID)
	assert.Equal(t, 3, c.Job.Deliveries)
	require.NoError(t, c.Ack(ctx))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLQueueNack(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, q.Enqueue(ctx, async.Job{JobID: id}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(ctx, 30*time.Second))

	clock.Advance(31 * time.Second)
	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, d.Job.JobID)
	assert.Equal(t, 2, d.Job.Deliveries)
}

func TestSQLQueueConcurrentConsumersClaimOnce(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		require.NoError(t, q.Enqueue(ctx, async.Job{JobID: uuid.New()}))
	}

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				total := 0
				for _, c := range seen {
					total += c
				}
				mu.Unlock()
				if total >= jobs {
					return
				}
				short, c := context.WithTimeout(ctx, 50*time.Millisecond)
				d, err := q.Dequeue(short)
				c()
				if err != nil {
					continue
				}
				mu.Lock()
				seen[d.Job.JobID]++
				mu.Unlock()
				_ = d.Ack(ctx)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, c := range seen {
		assert.Equal(t, 1, c, "job %s delivered more than once", id)
	}
}

func TestSQLQueueClose(t *testing.T) {
	q := newTestQueue(t, nil, WithPollInterval(time.Hour))
	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, async.ErrQueueClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("dequeue not released by close")
	}
}

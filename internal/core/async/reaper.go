package async

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/ocr-jobs/internal/repository"
	"github.com/joseph-ayodele/ocr-jobs/internal/storage"
)

// Reaper deletes expired job records and whatever payload they left behind.
// Reads never depend on it: the store already hides expired records.
type Reaper struct {
	jobs     repository.JobStore
	payloads storage.PayloadStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewReaper(jobs repository.JobStore, payloads storage.PayloadStore, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reaper{jobs: jobs, payloads: payloads, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep removes everything expired at this moment and returns how many records went.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	ids, err := r.jobs.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := r.payloads.Delete(ctx, id); err != nil {
			r.logger.Warn("payload cleanup failed", "job_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		r.logger.Info("reaped expired jobs", "count", len(ids))
	}
	return len(ids), nil
}

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/decode"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
	"github.com/joseph-ayodele/ocr-jobs/internal/repository"
	"github.com/joseph-ayodele/ocr-jobs/internal/storage"
)

// DocumentDecoder is satisfied by *decode.Decoder.
type DocumentDecoder interface {
	Decode(ctx context.Context, data []byte, kind constants.SourceKind) (decode.Document, error)
}

// PageExtractor is satisfied by *ocr.Extractor.
type PageExtractor interface {
	Extract(ctx context.Context, page ocr.Page) entity.PageResult
}

// RetryPolicy bounds how long a worker keeps retrying an unavailable store
// before giving the job back to the queue.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Processor runs one job from queued to a terminal state.
type Processor struct {
	logger     *slog.Logger
	jobs       repository.JobStore
	payloads   storage.PayloadStore
	decoder    DocumentDecoder
	extractor  PageExtractor
	jobTimeout time.Duration
	retry      RetryPolicy
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

type ProcessorOption func(*Processor)

func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

func WithRetryPolicy(r RetryPolicy) ProcessorOption {
	return func(p *Processor) {
		if r.Attempts > 0 {
			p.retry.Attempts = r.Attempts
		}
		if r.Backoff > 0 {
			p.retry.Backoff = r.Backoff
		}
		if r.MaxBackoff > 0 {
			p.retry.MaxBackoff = r.MaxBackoff
		}
	}
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProcessor(
	logger *slog.Logger,
	jobs repository.JobStore,
	payloads storage.PayloadStore,
	decoder DocumentDecoder,
	extractor PageExtractor,
	opts ...ProcessorOption,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		logger:     logger,
		jobs:       jobs,
		payloads:   payloads,
		decoder:    decoder,
		extractor:  extractor,
		jobTimeout: 5 * time.Minute,
		retry:      RetryPolicy{Attempts: 5, Backoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second},
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessJob returns nil once the job is terminal, was already terminal, or
// no longer exists. A non-nil error means the job was not brought to a
// terminal state and should be delivered again.
func (p *Processor) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	log := p.logger.With("job_id", jobID)
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		log = log.With("trace_id", rid)
	}

	var job *entity.Job
	err := p.withRetry(ctx, log, "load job", func(ctx context.Context) error {
		var err error
		job, err = p.jobs.Get(ctx, jobID)
		return err
	})
	if errors.Is(err, common.ErrNotFound) {
		log.Warn("job not found or expired, discarding delivery")
		p.dropPayload(ctx, log, jobID)
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		log.Info("job already terminal, skipping redelivery", "status", job.Status)
		return nil
	}
	if job.Status == constants.JobStatusStarted {
		log.Warn("restarting job left started by an earlier delivery", "attempts", job.Attempts)
	}

	if err := job.Start(p.now()); err != nil {
		return err
	}
	if err := p.save(ctx, log, job); err != nil {
		return err
	}
	log.Info("job started", "source_kind", job.SourceKind, "attempt", job.Attempts)

	jctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	data, err := p.payloads.Load(jctx, jobID)
	if err != nil {
		if errors.Is(err, common.ErrPayloadMissing) {
			return p.fail(ctx, log, job, err)
		}
		return fmt.Errorf("load payload: %w", err)
	}

	doc, err := p.decoder.Decode(jctx, data, job.SourceKind)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, common.ErrTempStorage) {
			// the job stays started with its payload for the next delivery
			log.Error("decode could not run", "error", err)
			return fmt.Errorf("decode: %w", err)
		}
		if !common.IsDecodeError(err) && !errors.Is(err, common.ErrUnsupportedType) {
			err = common.NewAppError(common.CodeInternal, "decode: "+err.Error(), err)
		}
		return p.fail(ctx, log, job, err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			log.Warn("document cleanup failed", "error", err)
		}
	}()

	job.SetPageCount(doc.PageCount())
	p.saveProgress(ctx, log, job)

	failedPages := 0
	for i := 0; i < doc.PageCount(); i++ {
		res := p.processPage(jctx, doc, i)
		if res.Outcome != constants.PageOutcomeOK {
			failedPages++
		}
		if err := job.AppendPage(res); err != nil {
			return err
		}
		p.saveProgress(ctx, log, job)
	}

	if err := job.Finish(p.now()); err != nil {
		return err
	}
	if err := p.save(ctx, log, job); err != nil {
		return err
	}
	p.dropPayload(ctx, log, jobID)
	log.Info("job finished", "pages", len(job.Pages), "failed_pages", failedPages)
	return nil
}

// processPage renders and extracts one page. Render time counts towards the
// page duration except for timeouts, which report the deadline.
func (p *Processor) processPage(ctx context.Context, doc decode.Document, index int) entity.PageResult {
	if ctx.Err() != nil {
		return entity.PageResult{Index: index, Outcome: constants.PageOutcomeTimeout, Error: "job deadline reached"}
	}
	start := p.now()
	page, err := doc.Page(ctx, index)
	if err != nil {
		outcome := constants.PageOutcomeExtractionError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = constants.PageOutcomeTimeout
		}
		p.logger.Warn("page render failed", "page", index, "error", err)
		return entity.PageResult{Index: index, Outcome: outcome, Duration: p.now().Sub(start), Error: err.Error()}
	}
	rendered := p.now().Sub(start)

	res := p.extractor.Extract(ctx, page)
	res.Index = index
	if res.Outcome != constants.PageOutcomeTimeout {
		res.Duration += rendered
	}
	return res
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, job *entity.Job, cause error) error {
	code, msg := common.ErrorCode(cause), common.ErrorMessage(cause)
	if err := job.Fail(code, msg, p.now()); err != nil {
		return err
	}
	if err := p.save(ctx, log, job); err != nil {
		return err
	}
	p.dropPayload(ctx, log, job.ID)
	log.Warn("job failed", "error_code", code, "error", msg)
	return nil
}

func (p *Processor) save(ctx context.Context, log *slog.Logger, job *entity.Job) error {
	return p.withRetry(ctx, log, "save job", func(ctx context.Context) error {
		return p.jobs.Put(ctx, job)
	})
}

// saveProgress publishes partial results for pollers. A failed write is not
// retried; the terminal write carries every page anyway.
func (p *Processor) saveProgress(ctx context.Context, log *slog.Logger, job *entity.Job) {
	if err := p.jobs.Put(ctx, job); err != nil {
		log.Warn("progress write failed", "pages", len(job.Pages), "error", err)
	}
}

func (p *Processor) dropPayload(ctx context.Context, log *slog.Logger, jobID uuid.UUID) {
	if err := p.payloads.Delete(ctx, jobID); err != nil {
		log.Warn("payload cleanup failed", "error", err)
	}
}

// withRetry retries fn while the store reports itself unavailable, with
// capped exponential backoff.
func (p *Processor) withRetry(ctx context.Context, log *slog.Logger, op string, fn func(ctx context.Context) error) error {
	backoff := p.retry.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, common.ErrStoreUnavailable) {
			return err
		}
		if attempt >= p.retry.Attempts {
			break
		}
		log.Warn("store unavailable, retrying", "op", op, "attempt", attempt, "backoff", backoff, "error", err)
		if serr := p.sleep(ctx, backoff); serr != nil {
			return errors.Join(err, serr)
		}
		backoff *= 2
		if backoff > p.retry.MaxBackoff {
			backoff = p.retry.MaxBackoff
		}
	}
	log.Error("store unavailable, giving up on delivery", "op", op, "attempts", p.retry.Attempts, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

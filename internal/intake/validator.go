package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/async"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
	"github.com/joseph-ayodele/ocr-jobs/internal/repository"
	"github.com/joseph-ayodele/ocr-jobs/internal/storage"
)

// Upload is a document as received from the transport.
type Upload struct {
	Data         []byte
	ContentType  string
	DeclaredSize int64
}

// Validator admits uploads: it checks limits, persists the payload and a
// queued record, and hands the job id to the queue. It never decodes.
type Validator struct {
	maxSize  int64
	ttl      time.Duration
	jobs     repository.JobStore
	payloads storage.PayloadStore
	queue    async.Queue
	logger   *slog.Logger
	now      func() time.Time
	newID    func() uuid.UUID
}

func NewValidator(cfg common.IntakeConfig, jobs repository.JobStore, payloads storage.PayloadStore, queue async.Queue, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		maxSize:  cfg.MaxFileSizeBytes,
		ttl:      cfg.ResultTTL,
		jobs:     jobs,
		payloads: payloads,
		queue:    queue,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.New,
	}
}

// TooLarge is the rejection for a document of size bytes over limit.
func TooLarge(limit, size int64) error {
	return common.NewAppError(common.CodeFileTooLarge,
		fmt.Sprintf("size exceeds %d bytes limit (got %d)", limit, size), common.ErrFileTooLarge)
}

// Check applies the synchronous admission rules in order: size, then type.
func (v *Validator) Check(u Upload) (constants.SourceKind, error) {
	size := max(u.DeclaredSize, int64(len(u.Data)))
	if size > v.maxSize {
		return "", TooLarge(v.maxSize, size)
	}
	kind, ok := constants.KindForContentType(u.ContentType)
	if !ok {
		return "", common.NewAppError(common.CodeUnsupportedType,
			fmt.Sprintf("Unsupported file type %q", u.ContentType), common.ErrUnsupportedType)
	}
	if len(u.Data) == 0 {
		return "", common.NewAppError(common.CodeEmptyPayload, "document is empty", common.ErrInvalidInput)
	}
	return kind, nil
}

// Submit admits u and returns the id of the queued job.
func (v *Validator) Submit(ctx context.Context, u Upload) (uuid.UUID, error) {
	log := common.LoggerFromContext(ctx, v.logger)

	kind, err := v.Check(u)
	if err != nil {
		log.Warn("upload rejected", "content_type", u.ContentType, "declared_size", u.DeclaredSize, "size", len(u.Data), "error", err)
		return uuid.Nil, err
	}

	id := v.newID()
	log = log.With("job_id", id)
	if err := v.payloads.Save(ctx, id, u.Data); err != nil {
		log.Error("failed to store payload", "error", err)
		return uuid.Nil, common.NewAppError(common.CodeStoreUnavailable, "store payload", fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err))
	}

	job := entity.NewJob(id, kind, constants.NormalizeContentType(u.ContentType), int64(len(u.Data)), v.now(), v.ttl)
	if err := v.jobs.Create(ctx, job); err != nil {
		log.Error("failed to create job record", "error", err)
		v.compensate(ctx, log, id, false)
		return uuid.Nil, err
	}

	if err := v.queue.Enqueue(ctx, async.Job{
		JobID:      id,
		EnqueuedAt: job.CreatedAt,
		TraceID:    common.RequestIDFromContext(ctx),
	}); err != nil {
		log.Error("failed to enqueue job", "error", err)
		v.compensate(ctx, log, id, true)
		return uuid.Nil, err
	}

	log.Info("job queued", "source_kind", kind, "size", len(u.Data))
	return id, nil
}

// compensate removes what a failed submission left behind so no queued
// record exists without a queue entry.
func (v *Validator) compensate(ctx context.Context, log *slog.Logger, id uuid.UUID, record bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if record {
		if err := v.jobs.Delete(cctx, id); err != nil {
			log.Error("failed to remove orphaned job record", "error", err)
		}
	}
	if err := v.payloads.Delete(cctx, id); err != nil {
		log.Error("failed to remove orphaned payload", "error", err)
	}
}

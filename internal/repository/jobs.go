package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
)

// JobStore is the TTL-bounded job record store. Expiry is measured from
// created_at and enforced by the store: Get on an expired record returns
// common.ErrNotFound.
type JobStore interface {
	// Create inserts a new record; common.ErrAlreadyExists if the id was ever used and is still stored.
	Create(ctx context.Context, job *entity.Job) error
	// Put writes the full record, last write wins.
	Put(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteExpired removes records whose TTL elapsed at now and returns their ids.
	DeleteExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

var jobColumns = []string{
	"id", "status", "source_kind", "content_type", "size_bytes", "page_count", "pages",
	"error_code", "error_message", "attempts", "created_at", "started_at", "finished_at", "expires_at",
}

type sqlJobStore struct {
	db  *DB
	now func() time.Time
	log *slog.Logger
}

// NewSQLJobStore returns a JobStore backed by the ocr_jobs table.
func NewSQLJobStore(db *DB, log *slog.Logger) JobStore {
	if log == nil {
		log = slog.Default()
	}
	return &sqlJobStore{db: db, now: time.Now, log: log}
}

func (r *sqlJobStore) values(job *entity.Job) ([]any, error) {
	pages := job.Pages
	if pages == nil {
		pages = []entity.PageResult{}
	}
	raw, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("marshal pages: %w", err)
	}
	return []any{
		job.ID.String(), string(job.Status), string(job.SourceKind), job.ContentType, job.SizeBytes,
		job.PageCount, string(raw), job.ErrorCode, job.Error, job.Attempts,
		toNanos(&job.CreatedAt), toNanos(job.StartedAt), toNanos(job.FinishedAt), toNanos(&job.ExpiresAt),
	}, nil
}

func (r *sqlJobStore) Create(ctx context.Context, job *entity.Job) error {
	vals, err := r.values(job)
	if err != nil {
		return err
	}
	q, args := r.db.builder().Insert(jobsTable).
		Columns(jobColumns...).
		Values(vals...).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()
	res, err := r.db.exec(ctx, q, args)
	if err != nil {
		r.log.Error("ocr_job create failed", "job_id", job.ID, "err", err)
		return unavailable("create job", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, common.ErrAlreadyExists)
	}
	r.log.Debug("ocr_job created", "job_id", job.ID, "source_kind", job.SourceKind)
	return nil
}

func (r *sqlJobStore) Put(ctx context.Context, job *entity.Job) error {
	vals, err := r.values(job)
	if err != nil {
		return err
	}
	q, args := r.db.builder().Insert(jobsTable).
		Columns(jobColumns...).
		Values(vals...).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.log.Error("ocr_job put failed", "job_id", job.ID, "status", job.Status, "err", err)
		return unavailable("put job", err)
	}
	return nil
}

func (r *sqlJobStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	b := r.db.builder()
	q, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.And(
			entsql.EQ("id", id.String()),
			entsql.GT("expires_at", r.now().UnixNano()),
		)).
		Query()
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		r.log.Error("ocr_job get failed", "job_id", id, "err", err)
		return nil, unavailable("get job", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, unavailable("get job", err)
		}
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	job, err := scanJob(rows)
	if err != nil {
		r.log.Error("ocr_job decode failed", "job_id", id, "err", err)
		return nil, err
	}
	return job, nil
}

func (r *sqlJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	q, args := r.db.builder().Delete(jobsTable).Where(entsql.EQ("id", id.String())).Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.log.Error("ocr_job delete failed", "job_id", id, "err", err)
		return unavailable("delete job", err)
	}
	return nil
}

func (r *sqlJobStore) DeleteExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	b := r.db.builder()
	q, args := b.Select("id").
		From(b.Table(jobsTable)).
		Where(entsql.LTE("expires_at", now.UnixNano())).
		Query()
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, unavailable("list expired jobs", err)
	}
	var (
		ids  []uuid.UUID
		keys []any
	)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			_ = rows.Close()
			return nil, unavailable("scan expired job", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			r.log.Warn("skipping malformed job id", "id", s)
			continue
		}
		ids = append(ids, id)
		keys = append(keys, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, unavailable("list expired jobs", err)
	}
	_ = rows.Close()
	if len(keys) == 0 {
		return nil, nil
	}

	q, args = b.Delete(jobsTable).Where(entsql.In("id", keys...)).Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		return nil, unavailable("delete expired jobs", err)
	}
	r.log.Info("ocr_jobs expired", "count", len(ids))
	return ids, nil
}

func scanJob(rows *entsql.Rows) (*entity.Job, error) {
	var (
		id, status, kind, contentType, pages, errCode, errMsg string
		size, created, started, finished, expires             int64
		pageCount, attempts                                   int
	)
	if err := rows.Scan(&id, &status, &kind, &contentType, &size, &pageCount, &pages,
		&errCode, &errMsg, &attempts, &created, &started, &finished, &expires); err != nil {
		return nil, unavailable("scan job", err)
	}
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("job id %q: %w", id, common.ErrInternal)
	}
	if !constants.JobStatus(status).Valid() {
		return nil, fmt.Errorf("job %s has unknown status %q: %w", id, status, common.ErrInternal)
	}
	if err := validatePages([]byte(pages)); err != nil {
		return nil, errors.Join(common.ErrInternal, fmt.Errorf("job %s: %w", id, err))
	}
	var results []entity.PageResult
	if err := json.Unmarshal([]byte(pages), &results); err != nil {
		return nil, errors.Join(common.ErrInternal, fmt.Errorf("job %s pages: %w", id, err))
	}
	if results == nil {
		results = []entity.PageResult{}
	}
	return &entity.Job{
		ID:          jobID,
		Status:      constants.JobStatus(status),
		SourceKind:  constants.SourceKind(kind),
		ContentType: contentType,
		SizeBytes:   size,
		PageCount:   pageCount,
		Pages:       results,
		ErrorCode:   errCode,
		Error:       errMsg,
		Attempts:    attempts,
		CreatedAt:   time.Unix(0, created).UTC(),
		StartedAt:   fromNanos(started),
		FinishedAt:  fromNanos(finished),
		ExpiresAt:   time.Unix(0, expires).UTC(),
	}, nil
}

func toNanos(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

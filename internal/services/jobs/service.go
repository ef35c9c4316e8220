package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
	"github.com/joseph-ayodele/ocr-jobs/internal/intake"
	"github.com/joseph-ayodele/ocr-jobs/internal/repository"
)

// PageSeparator joins the text of consecutive pages in Result.Text.
const PageSeparator = "\f"

// Submitter admits uploads. Satisfied by *intake.Validator.
type Submitter interface {
	Submit(ctx context.Context, u intake.Upload) (uuid.UUID, error)
}

// Service handles job submission and polling.
type Service struct {
	submitter Submitter
	jobs      repository.JobStore
	logger    *slog.Logger
}

// NewService creates a new jobs service.
func NewService(submitter Submitter, jobs repository.JobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{submitter: submitter, jobs: jobs, logger: logger}
}

// SubmitRequest represents document submission parameters.
type SubmitRequest struct {
	Data         []byte
	ContentType  string
	DeclaredSize int64
}

// Result is the polling view of a job.
type Result struct {
	JobID      uuid.UUID
	Status     constants.JobStatus
	SourceKind constants.SourceKind
	PageCount  int
	Pages      []entity.PageResult
	Text       string
	ErrorCode  string
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	ExpiresAt  time.Time
}

// Submit validates and queues a document.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	return s.submitter.Submit(ctx, intake.Upload{
		Data:         req.Data,
		ContentType:  req.ContentType,
		DeclaredSize: req.DeclaredSize,
	})
}

// Job returns the stored record for jobID.
func (s *Service) Job(ctx context.Context, jobID string) (*entity.Job, error) {
	v := common.NewValidator()
	v.Field("job_id", strings.TrimSpace(jobID), common.Required, common.UUID)
	if err := v.Error(); err != nil {
		return nil, err
	}
	id := uuid.MustParse(strings.TrimSpace(jobID))

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		s.logger.Debug("job lookup failed", "job_id", id, "error", err)
		return nil, err
	}
	return job, nil
}

// Result returns the polling view for jobID. Expired and unknown ids are
// both reported as not found.
func (s *Service) Result(ctx context.Context, jobID string) (*Result, error) {
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return NewResult(job), nil
}

// NewResult builds the view of job. Text is set only once the job finished.
func NewResult(job *entity.Job) *Result {
	r := &Result{
		JobID:      job.ID,
		Status:     job.Status,
		SourceKind: job.SourceKind,
		PageCount:  job.PageCount,
		Pages:      job.Pages,
		ErrorCode:  job.ErrorCode,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		ExpiresAt:  job.ExpiresAt,
	}
	if job.Status == constants.JobStatusFinished {
		r.Text = JoinText(job.Pages)
	}
	return r
}

// JoinText concatenates the text of ok pages in page order.
func JoinText(pages []entity.PageResult) string {
	var parts []string
	for _, p := range pages {
		if p.Outcome == constants.PageOutcomeOK && p.Text != nil {
			parts = append(parts, *p.Text)
		}
	}
	return strings.Join(parts, PageSeparator)
}

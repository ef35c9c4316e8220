package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/constants"
)

// ErrInvalidTransition is returned when a status change is not an edge of the job state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Job represents one OCR request and its accumulated state.
type Job struct {
	ID          uuid.UUID            `json:"id"`
	Status      constants.JobStatus  `json:"status"`
	SourceKind  constants.SourceKind `json:"source_kind"`
	ContentType string               `json:"content_type"`
	SizeBytes   int64                `json:"size_bytes"`
	PageCount   int                  `json:"page_count"`
	Pages       []PageResult         `json:"pages"`
	ErrorCode   string               `json:"error_code,omitempty"`
	Error       string               `json:"error,omitempty"`
	Attempts    int                  `json:"attempts"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

// PageResult is the outcome for one page of a job.
type PageResult struct {
	Index    int                   `json:"index"`
	Text     *string               `json:"text,omitempty"`
	Outcome  constants.PageOutcome `json:"outcome"`
	Duration time.Duration         `json:"duration"`
	Error    string                `json:"error,omitempty"`
}

// NewJob returns a queued job that expires ttl after now.
func NewJob(id uuid.UUID, kind constants.SourceKind, contentType string, size int64, now time.Time, ttl time.Duration) *Job {
	now = now.UTC()
	return &Job{
		ID:          id,
		Status:      constants.JobStatusQueued,
		SourceKind:  kind,
		ContentType: contentType,
		SizeBytes:   size,
		Pages:       []PageResult{},
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (j *Job) transition(to constants.JobStatus) error {
	if !constants.CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// Start moves the job to started. A redelivered started job is restarted
// from its first page; started_at keeps its original value.
func (j *Job) Start(now time.Time) error {
	if err := j.transition(constants.JobStatusStarted); err != nil {
		return err
	}
	if j.StartedAt == nil {
		t := notBefore(now, j.CreatedAt)
		j.StartedAt = &t
	}
	j.Attempts++
	j.PageCount = 0
	j.Pages = []PageResult{}
	return nil
}

// SetPageCount records the decoded page count.
func (j *Job) SetPageCount(n int) {
	j.PageCount = n
}

// AppendPage records the next page result. Pages must arrive in index order.
func (j *Job) AppendPage(p PageResult) error {
	if j.Status != constants.JobStatusStarted {
		return fmt.Errorf("%w: append page to %s job", ErrInvalidTransition, j.Status)
	}
	if p.Index != len(j.Pages) {
		return fmt.Errorf("page index %d out of order, expected %d", p.Index, len(j.Pages))
	}
	j.Pages = append(j.Pages, p)
	return nil
}

// Finish marks the job finished. Page-level errors do not affect this.
func (j *Job) Finish(now time.Time) error {
	if err := j.transition(constants.JobStatusFinished); err != nil {
		return err
	}
	j.setFinished(now)
	return nil
}

// Fail marks the job failed with a whole-document error. No pages are kept.
func (j *Job) Fail(code, message string, now time.Time) error {
	if err := j.transition(constants.JobStatusFailed); err != nil {
		return err
	}
	j.ErrorCode = code
	j.Error = message
	j.Pages = []PageResult{}
	j.setFinished(now)
	return nil
}

func (j *Job) setFinished(now time.Time) {
	if j.FinishedAt != nil {
		return
	}
	floor := j.CreatedAt
	if j.StartedAt != nil {
		floor = *j.StartedAt
	}
	t := notBefore(now, floor)
	j.FinishedAt = &t
}

// Expired reports whether the job's TTL has elapsed at now.
func (j *Job) Expired(now time.Time) bool {
	return !now.Before(j.ExpiresAt)
}

// Clone returns a deep copy so stores never share page slices with callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Pages = make([]PageResult, len(j.Pages))
	for i, p := range j.Pages {
		if p.Text != nil {
			t := *p.Text
			p.Text = &t
		}
		c.Pages[i] = p
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func notBefore(t, floor time.Time) time.Time {
	t = t.UTC()
	if t.Before(floor) {
		return floor
	}
	return t
}

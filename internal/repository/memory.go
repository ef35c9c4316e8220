package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
)

// MemoryJobStore is an in-process JobStore. Records are deep-copied on the
// way in and out.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*entity.Job
	now  func() time.Time
	log  *slog.Logger
}

type MemoryOption func(*MemoryJobStore)

// WithClock replaces time.Now, mostly for expiry tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryJobStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryJobStore(log *slog.Logger, opts ...MemoryOption) *MemoryJobStore {
	if log == nil {
		log = slog.Default()
	}
	s := &MemoryJobStore{
		jobs: make(map[uuid.UUID]*entity.Job),
		now:  time.Now,
		log:  log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryJobStore) Create(_ context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, common.ErrAlreadyExists)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Put(_ context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok || job.Expired(s.now()) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) DeleteExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, job := range s.jobs {
		if job.Expired(now) {
			delete(s.jobs, id)
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		s.log.Info("ocr_jobs expired", "count", len(ids))
	}
	return ids, nil
}

// Len reports the number of stored records, expired or not.
func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

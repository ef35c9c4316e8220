package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
)

// PayloadStore keeps the submitted document bytes until a worker is done with them.
type PayloadStore interface {
	Save(ctx context.Context, jobID uuid.UUID, data []byte) error
	Load(ctx context.Context, jobID uuid.UUID) ([]byte, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
}

// LocalStorage implements PayloadStore on the local filesystem.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

// Save writes the payload atomically (temp file + rename).
func (s *LocalStorage) Save(_ context.Context, jobID uuid.UUID, data []byte) error {
	dir := s.GetJobPath(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create job directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "payload-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create payload file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close payload: %w", err)
	}
	if err := os.Rename(tmpName, s.payloadPath(jobID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit payload: %w", err)
	}
	return nil
}

// Load returns common.ErrPayloadMissing when nothing was saved for jobID.
func (s *LocalStorage) Load(_ context.Context, jobID uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(s.payloadPath(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrPayloadMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return data, nil
}

// Delete removes the job directory. Missing directories are not an error.
func (s *LocalStorage) Delete(_ context.Context, jobID uuid.UUID) error {
	if err := os.RemoveAll(s.GetJobPath(jobID)); err != nil {
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	return nil
}

// GetJobPath returns the path for a job directory.
func (s *LocalStorage) GetJobPath(jobID uuid.UUID) string {
	return filepath.Join(s.BaseDir, "jobs", jobID.String())
}

func (s *LocalStorage) payloadPath(jobID uuid.UUID) string {
	return filepath.Join(s.GetJobPath(jobID), "payload")
}

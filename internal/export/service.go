package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
	"github.com/joseph-ayodele/ocr-jobs/internal/repository"
)

const (
	sheet = "Pages"
	// excel rejects cells longer than this
	maxCellChars = 32767
)

// Service is a tiny façade over the job store that produces XLSX bytes for exports.
type Service struct {
	jobs   repository.JobStore
	logger *slog.Logger
}

func NewService(jobs repository.JobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// JobXLSX returns an XLSX workbook (as bytes) with one row per page of a finished job.
func (s *Service) JobXLSX(ctx context.Context, jobID uuid.UUID) ([]byte, error) {
	start := time.Now()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != constants.JobStatusFinished {
		return nil, common.NewAppError("JOB_NOT_FINISHED",
			fmt.Sprintf("job is %s, only finished jobs can be exported", job.Status), common.ErrInvalidInput)
	}

	buf, err := PagesXLSX(job.Pages)
	if err != nil {
		return nil, err
	}

	s.logger.Info("export.xlsx.ok",
		"job_id", jobID.String(),
		"rows", len(job.Pages),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf, nil
}

// PagesXLSX renders pages as a single-sheet workbook.
func PagesXLSX(pages []entity.PageResult) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	headers := []string{"Page", "Outcome", "Duration (ms)", "Text", "Error"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, p := range pages {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, p.Index+1)
		write(2, string(p.Outcome))
		write(3, p.Duration.Milliseconds())
		if p.Text != nil {
			write(4, truncate(*p.Text, maxCellChars))
		}
		if p.Error != "" {
			write(5, p.Error)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", "B", 18)
	_ = f.SetColWidth(sheet, "C", "C", 14)
	_ = f.SetColWidth(sheet, "D", "D", 80)
	_ = f.SetColWidth(sheet, "E", "E", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

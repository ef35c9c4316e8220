package server

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
)

// ExportResult returns the pages of a finished job as an XLSX workbook.
func (s *OCRService) ExportResult(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	raw := strings.TrimSpace(req.GetValue())
	jobID, err := uuid.Parse(raw)
	if err != nil || raw == "" {
		return nil, common.InvalidArgumentError("job_id must be a UUID")
	}

	xlsx, err := s.exports.JobXLSX(ctx, jobID)
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("export.xlsx.failed", "job_id", raw, "err", err)
		return nil, common.ToStatus(err)
	}
	return wrapperspb.Bytes(xlsx), nil
}

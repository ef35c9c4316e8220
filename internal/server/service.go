package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/export"
	"github.com/joseph-ayodele/ocr-jobs/internal/services/jobs"
)

const ServiceName = "ocr.v1.OCRService"

// Request metadata keys. "content-type" itself is reserved by gRPC.
const (
	MDContentType  = "x-content-type"
	MDDeclaredSize = "x-declared-size"
	MDRequestID    = "x-request-id"
)

// OCRServiceServer is the server API for the OCR service.
type OCRServiceServer interface {
	Submit(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	GetResult(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ExportResult(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// OCRService exposes job submission and polling over gRPC.
type OCRService struct {
	jobs    *jobs.Service
	exports *export.Service
	logger  *slog.Logger
}

func NewOCRService(jobsSvc *jobs.Service, exports *export.Service, logger *slog.Logger) *OCRService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRService{jobs: jobsSvc, exports: exports, logger: logger}
}

// Submit takes the document as the message body; content type and declared
// size travel in metadata.
func (s *OCRService) Submit(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	contentType := first(md, MDContentType)
	if contentType == "" {
		return nil, common.InvalidArgumentError(MDContentType + " metadata is required")
	}
	var declared int64
	if v := first(md, MDDeclaredSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, common.InvalidArgumentErrorf("%s must be a non-negative integer", MDDeclaredSize)
		}
		declared = n
	}

	id, err := s.jobs.Submit(ctx, jobs.SubmitRequest{
		Data:         req.GetValue(),
		ContentType:  contentType,
		DeclaredSize: declared,
	})
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return wrapperspb.String(id.String()), nil
}

// GetResult returns the polling view of a job.
func (s *OCRService) GetResult(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	res, err := s.jobs.Result(ctx, req.GetValue())
	if err != nil {
		return nil, common.ToStatus(err)
	}
	out, err := structpb.NewStruct(ResultMap(res))
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("result encode failed", "job_id", res.JobID, "error", err)
		return nil, common.InternalError("result encode failed")
	}
	return out, nil
}

// ResultMap flattens a result into JSON-compatible values.
func ResultMap(r *jobs.Result) map[string]any {
	pages := make([]any, 0, len(r.Pages))
	for _, p := range r.Pages {
		page := map[string]any{
			"index":       p.Index,
			"outcome":     string(p.Outcome),
			"duration_ms": p.Duration.Milliseconds(),
			"text":        nil,
		}
		if p.Text != nil {
			page["text"] = *p.Text
		}
		if p.Error != "" {
			page["error"] = p.Error
		}
		pages = append(pages, page)
	}
	m := map[string]any{
		"job_id":      r.JobID.String(),
		"status":      string(r.Status),
		"source_kind": string(r.SourceKind),
		"page_count":  r.PageCount,
		"pages":       pages,
		"created_at":  r.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":  r.ExpiresAt.Format(time.RFC3339Nano),
		"started_at":  formatTime(r.StartedAt),
		"finished_at": formatTime(r.FinishedAt),
	}
	if r.Text != "" {
		m["text"] = r.Text
	}
	if r.ErrorCode != "" {
		m["error_code"] = r.ErrorCode
		m["error"] = r.Error
	}
	return m
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func first(md metadata.MD, key string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// RegisterOCRServiceServer registers srv on s.
func RegisterOCRServiceServer(s grpc.ServiceRegistrar, srv OCRServiceServer) {
	s.RegisterService(&OCRServiceDesc, srv)
}

// OCRServiceDesc is the grpc.ServiceDesc for the OCR service. Messages are
// protobuf well-known types so no generated code is needed.
var OCRServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OCRServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "GetResult", Handler: getResultHandler},
		{MethodName: "ExportResult", Handler: exportResultHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OCRServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Submit"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OCRServiceServer).Submit(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getResultHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OCRServiceServer).GetResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetResult"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OCRServiceServer).GetResult(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func exportResultHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OCRServiceServer).ExportResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ExportResult"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OCRServiceServer).ExportResult(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

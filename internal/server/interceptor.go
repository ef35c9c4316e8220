package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/tap"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/intake"
)

// RequestIDInterceptor tags each call with the caller's x-request-id (or a
// fresh one), echoes it back in the response header and logs the outcome.
func RequestIDInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		reqID := first(md, MDRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		log := logger.With("request_id", reqID, "method", info.FullMethod)
		ctx = common.WithRequestID(ctx, reqID)
		ctx = common.WithLogger(ctx, log)
		_ = grpc.SetHeader(ctx, metadata.Pairs(MDRequestID, reqID))

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if err != nil {
			log.Warn("grpc call failed", "code", code.String(), "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		} else {
			log.Debug("grpc call ok", "elapsed_ms", time.Since(start).Milliseconds())
		}
		return resp, err
	}
}

// DeclaredSizeTap rejects a Submit whose x-declared-size is over maxPayload
// before its body is read, so an oversize upload gets the same
// InvalidArgument as one caught by intake instead of the transport's
// ResourceExhausted. Calls without the header still hit MaxRecvMsgSize.
func DeclaredSizeTap(maxPayload int64) tap.ServerInHandle {
	submit := "/" + ServiceName + "/Submit"
	return func(ctx context.Context, info *tap.Info) (context.Context, error) {
		if info.FullMethodName != submit {
			return ctx, nil
		}
		declared, err := strconv.ParseInt(first(info.Header, MDDeclaredSize), 10, 64)
		if err != nil || declared <= maxPayload {
			return ctx, nil
		}
		return ctx, common.ToStatus(intake.TooLarge(maxPayload, declared))
	}
}

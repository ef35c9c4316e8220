package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// envelope is headroom for message framing on top of the payload limit.
const envelope = 1 << 20

// NewGRPCServer builds a server with the OCR, health and reflection services
// registered. maxPayload bounds the accepted document size.
func NewGRPCServer(svc OCRServiceServer, maxPayload int64, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(int(maxPayload) + envelope),
		grpc.InTapHandle(DeclaredSizeTap(maxPayload)),
		grpc.ChainUnaryInterceptor(RequestIDInterceptor(logger)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterOCRServiceServer(s, svc)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	// empty string means overall server health
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// for grpcurl
	reflection.Register(s)
	return s, hs
}

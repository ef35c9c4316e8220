package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/ocr-jobs/internal/app"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/export"
	"github.com/joseph-ayodele/ocr-jobs/internal/server"
	"github.com/joseph-ayodele/ocr-jobs/internal/services/jobs"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	jobsService := jobs.NewService(a.Validator, a.Jobs, logger)
	exportService := export.NewService(a.Jobs, logger)
	grpcServer, healthServer := server.NewGRPCServer(
		server.NewOCRService(jobsService, exportService, logger),
		cfg.Intake.MaxFileSizeBytes,
		logger,
	)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Pool().Run(gctx) })
	g.Go(func() error { return a.Reaper().Run(gctx) })
	g.Go(func() error {
		logger.Info("ocrd listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ocrd stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

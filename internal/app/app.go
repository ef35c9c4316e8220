// Package app wires configuration into the stores, queue and processor shared
// by the daemon and the standalone worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joseph-ayodele/ocr-jobs/internal/async"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/core"
	coreasync "github.com/joseph-ayodele/ocr-jobs/internal/core/async"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/decode"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
	"github.com/joseph-ayodele/ocr-jobs/internal/intake"
	"github.com/joseph-ayodele/ocr-jobs/internal/repository"
	"github.com/joseph-ayodele/ocr-jobs/internal/server"
	"github.com/joseph-ayodele/ocr-jobs/internal/storage"
)

type App struct {
	Config    *common.Config
	Logger    *slog.Logger
	DB        *repository.DB // nil with the memory driver
	Jobs      repository.JobStore
	Queue     async.Queue
	Payloads  storage.PayloadStore
	Processor *core.Processor
	Validator *intake.Validator
}

// New opens the configured backends. The caller must Close the result.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	switch cfg.Database.Driver {
	case common.DriverMemory:
		a.Jobs = repository.NewMemoryJobStore(logger)
		a.Queue = async.NewMemoryQueue(logger, async.WithQueueSize(cfg.Queue.Size))
		logger.Warn("using in-memory job store and queue; jobs do not survive a restart")
	default:
		db, err := server.ConnectDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Jobs = repository.NewSQLJobStore(db, logger)
		a.Queue = repository.NewSQLQueue(db, logger,
			repository.WithLease(cfg.Queue.Lease),
			repository.WithPollInterval(cfg.Queue.PollInterval),
		)
	}

	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	a.Payloads = storage.NewLocalStorage(cfg.Storage.BaseDir)

	engine, err := NewEngine(cfg.OCR, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	runner := ocr.ExecRunner{}
	decoder := decode.NewDecoder(decode.Config{
		Pdfinfo:           cfg.OCR.Pdfinfo,
		Pdftoppm:          cfg.OCR.Pdftoppm,
		DPI:               cfg.OCR.DPI,
		MaxPages:          cfg.OCR.MaxPages,
		MaxImageDimension: cfg.OCR.MaxImageDimension,
		TempDir:           cfg.OCR.TempDir,
	}, runner, logger)
	extractor := ocr.NewExtractor(engine, cfg.OCR.PageTimeout, logger)

	a.Processor = core.NewProcessor(logger, a.Jobs, a.Payloads, decoder, extractor,
		core.WithJobTimeout(cfg.Worker.JobTimeout),
		core.WithRetryPolicy(core.RetryPolicy{
			Attempts:   cfg.Worker.RetryAttempts,
			Backoff:    cfg.Worker.RetryBackoff,
			MaxBackoff: cfg.Worker.RetryMaxBackoff,
		}),
	)
	a.Validator = intake.NewValidator(cfg.Intake, a.Jobs, a.Payloads, a.Queue, logger)

	logger.Info("app initialized",
		"driver", cfg.Database.Driver,
		"engine", engine.Name(),
		"page_timeout", extractor.Timeout(),
		"max_pages", decoder.MaxPages(),
	)
	return a, nil
}

func (a *App) Pool() *coreasync.Pool {
	return coreasync.NewPool(a.Processor, a.Queue, a.Logger, coreasync.WithWorkers(a.Config.Worker.Workers))
}

func (a *App) Reaper() *coreasync.Reaper {
	return coreasync.NewReaper(a.Jobs, a.Payloads, a.Config.Worker.ReapInterval, a.Logger)
}

// Close releases the queue and database.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Error("queue close failed", "error", err)
		}
	}
	server.CloseDB(a.DB)
}

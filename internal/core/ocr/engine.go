package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Page is one renderable unit of a document, already written to disk by the decoder.
type Page struct {
	Index  int
	Path   string // image file inside the job's workspace
	Format string // content type of the file at Path
	Width  int
	Height int
}

// Engine is the opaque text-extraction capability. Implementations need not
// honour ctx; the Extractor enforces the deadline either way.
type Engine interface {
	Name() string
	ExtractText(ctx context.Context, page Page) (string, error)
}

// ExecConfig configures the tesseract CLI engine.
type ExecConfig struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string
	PSM           int // 0 leaves tesseract's default
}

// ExecEngine shells out to the tesseract CLI. Cancelling ctx kills the process.
type ExecEngine struct {
	cfg    ExecConfig
	runner Runner
	logger *slog.Logger
}

func NewExecEngine(cfg ExecConfig, runner Runner, logger *slog.Logger) *ExecEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	return &ExecEngine{cfg: cfg, runner: runner, logger: logger}
}

func (e *ExecEngine) Name() string { return "tesseract-cli" }

func (e *ExecEngine) ExtractText(ctx context.Context, page Page) (string, error) {
	if page.Path == "" {
		return "", errors.New("page has no image path")
	}
	args := []string{page.Path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract page %d: %w", page.Index, err)
	}
	return Normalize(string(out)), nil
}

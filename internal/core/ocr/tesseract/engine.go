//go:build gosseract

// Package tesseract provides an in-process ocr.Engine on libtesseract via
// gosseract. Building it requires cgo and the tesseract/leptonica headers.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
)

type Config struct {
	Languages   []string // default ["eng"]
	TessdataDir string
	DPI         int
}

// Engine creates one gosseract client per page; clients are not safe for
// concurrent use. libtesseract cannot be interrupted, so a call that outlives
// its deadline keeps running until it returns on its own.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
	logger        *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient, logger: logger}
}

func (e *Engine) Name() string { return "gosseract" }

func (e *Engine) ExtractText(ctx context.Context, page ocr.Page) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	if e.cfg.TessdataDir != "" {
		if err := c.SetTessdataPrefix(e.cfg.TessdataDir); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.cfg.Languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if e.cfg.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.cfg.DPI)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}
	if err := c.SetImage(page.Path); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize page %d: %w", page.Index, err)
	}
	e.logger.Debug("gosseract page done", "page", page.Index, "chars", len(text))
	return ocr.Normalize(text), nil
}

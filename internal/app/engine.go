package app

import (
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
)

// gosseractEngine is set when built with -tags gosseract.
var gosseractEngine func(cfg common.OCRConfig, logger *slog.Logger) ocr.Engine

// NewEngine returns the text-extraction engine named by cfg.Engine.
func NewEngine(cfg common.OCRConfig, logger *slog.Logger) (ocr.Engine, error) {
	switch cfg.Engine {
	case common.EngineExec, "":
		return ocr.NewExecEngine(ocr.ExecConfig{
			Tesseract:     cfg.Tesseract,
			TesseractLang: cfg.TesseractLang,
			TessdataDir:   cfg.TessdataDir,
		}, ocr.ExecRunner{}, logger), nil
	case common.EngineGosseract:
		if gosseractEngine == nil {
			return nil, common.NewAppError("CONFIG_ERROR", "gosseract engine not compiled in, rebuild with -tags gosseract", common.ErrInvalidInput)
		}
		return gosseractEngine(cfg, logger), nil
	}
	return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown OCR engine %q", cfg.Engine), common.ErrInvalidInput)
}

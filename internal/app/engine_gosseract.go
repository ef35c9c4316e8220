//go:build gosseract

package app

import (
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr/tesseract"
)

func init() {
	gosseractEngine = func(cfg common.OCRConfig, logger *slog.Logger) ocr.Engine {
		return tesseract.NewEngine(tesseract.Config{
			Languages:   strings.Split(cfg.TesseractLang, "+"),
			TessdataDir: cfg.TessdataDir,
			DPI:         cfg.DPI,
		}, logger)
	}
}

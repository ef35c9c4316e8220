package decode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
)

type Config struct {
	Pdfinfo  string // binary name or absolute path; if empty -> "pdfinfo"
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"

	DPI               int // rasterization DPI for PDF pages, default 300
	MaxPages          int // default 20
	MaxImageDimension int // 0 = never downscale
	RenderTimeout     time.Duration

	TempDir string // parent of per-job workspaces; "" = os.TempDir()
}

// Document is an ordered sequence of pages rendered on demand. Close removes
// every file the document created and must always be called.
type Document interface {
	Kind() constants.SourceKind
	PageCount() int
	Page(ctx context.Context, index int) (ocr.Page, error)
	Close() error
}

type decodeFunc func(ctx context.Context, ws *workspace, data []byte) (Document, error)

// Decoder turns payload bytes into a Document. Decoders are looked up by
// source kind; adding a format means adding a SourceKind and a table entry.
type Decoder struct {
	cfg      Config
	runner   ocr.Runner
	logger   *slog.Logger
	decoders map[constants.SourceKind]decodeFunc
}

func NewDecoder(cfg Config, runner ocr.Runner, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ocr.ExecRunner{}
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	d := &Decoder{cfg: cfg, runner: runner, logger: logger}
	d.decoders = map[constants.SourceKind]decodeFunc{
		constants.SourceKindImage: d.decodeImage,
		constants.SourceKindPDF:   d.decodePDF,
	}
	return d
}

// MaxPages returns the configured page limit.
func (d *Decoder) MaxPages() int { return d.cfg.MaxPages }

// Decode fails with common.ErrCorruptDocument, common.ErrEncryptedDocument or
// common.ErrPageLimitExceeded for unusable documents, and with
// common.ErrTempStorage when the workspace cannot be written. Any other error
// is operational (context done, missing tool).
func (d *Decoder) Decode(ctx context.Context, data []byte, kind constants.SourceKind) (Document, error) {
	fn, ok := d.decoders[kind]
	if !ok {
		return nil, common.NewAppError(common.CodeUnsupportedType, fmt.Sprintf("no decoder for source kind %q", kind), common.ErrUnsupportedType)
	}
	ws, err := newWorkspace(d.cfg.TempDir)
	if err != nil {
		return nil, tempStorage("create workspace", err)
	}
	doc, err := fn(ctx, ws, data)
	if err != nil {
		if cerr := ws.Close(); cerr != nil {
			d.logger.Warn("workspace cleanup failed", "dir", ws.dir, "error", cerr)
		}
		return nil, err
	}
	d.logger.Debug("document decoded", "kind", kind, "pages", doc.PageCount(), "workspace", ws.dir)
	return doc, nil
}

func tempStorage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrTempStorage, err)
}

func corrupt(format string, args ...any) error {
	return common.NewAppError(common.CodeCorruptDocument, fmt.Sprintf(format, args...), common.ErrCorruptDocument)
}

// workspace is a job-scoped temp directory.
type workspace struct {
	dir string
}

func newWorkspace(parent string) (*workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(parent, "ocr-job-*")
	if err != nil {
		return nil, err
	}
	return &workspace{dir: dir}, nil
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w *workspace) Close() error {
	return os.RemoveAll(w.dir)
}

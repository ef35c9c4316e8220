package decode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
)

// the header may be preceded by junk; readers accept it within the first KB
const pdfHeaderWindow = 1024

type pdfInfo struct {
	Pages     int
	Encrypted bool
}

type pdfDocument struct {
	d     *Decoder
	ws    *workspace
	input string
	pages int
}

func (d *Decoder) decodePDF(ctx context.Context, ws *workspace, data []byte) (Document, error) {
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return nil, corrupt("missing %%PDF header")
	}

	input := ws.path("input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, tempStorage("write pdf", err)
	}

	info, err := d.pdfInfo(ctx, input)
	if err != nil {
		return nil, err
	}
	if info.Encrypted {
		return nil, common.NewAppError(common.CodeEncryptedDocument, "document is encrypted or password protected", common.ErrEncryptedDocument)
	}
	if info.Pages <= 0 {
		return nil, corrupt("document reports no pages")
	}
	if info.Pages > d.cfg.MaxPages {
		return nil, common.NewAppError(common.CodePageLimitExceeded,
			fmt.Sprintf("document has %d pages, page limit is %d (%d > %d)", info.Pages, d.cfg.MaxPages, info.Pages, d.cfg.MaxPages),
			common.ErrPageLimitExceeded)
	}
	return &pdfDocument{d: d, ws: ws, input: input, pages: info.Pages}, nil
}

// pdfInfo reads the page count and encryption flag without rendering anything.
func (d *Decoder) pdfInfo(ctx context.Context, path string) (pdfInfo, error) {
	stdout, stderr, err := d.runner.Run(ctx, d.cfg.Pdfinfo, d.logger, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pdfInfo{}, fmt.Errorf("pdfinfo: %w", ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return pdfInfo{}, fmt.Errorf("pdfinfo unavailable: %w", err)
		}
		msg := strings.ToLower(string(stderr) + " " + err.Error())
		if strings.Contains(msg, "incorrect password") || strings.Contains(msg, "encrypted") {
			return pdfInfo{}, common.NewAppError(common.CodeEncryptedDocument, "document is encrypted or password protected", common.ErrEncryptedDocument)
		}
		return pdfInfo{}, corrupt("unreadable pdf: %s", firstLine(string(stderr), err))
	}
	return parsePDFInfo(stdout)
}

func parsePDFInfo(out []byte) (pdfInfo, error) {
	var (
		info     pdfInfo
		sawPages bool
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Pages":
			n, err := strconv.Atoi(value)
			if err != nil {
				return pdfInfo{}, corrupt("bad page count %q", value)
			}
			info.Pages = n
			sawPages = true
		case "Encrypted":
			info.Encrypted = strings.HasPrefix(strings.ToLower(value), "yes")
		}
	}
	if err := sc.Err(); err != nil {
		return pdfInfo{}, corrupt("read pdfinfo output: %v", err)
	}
	if !sawPages {
		return pdfInfo{}, corrupt("pdfinfo reported no page count")
	}
	return info, nil
}

func firstLine(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		line, _, _ := strings.Cut(s, "\n")
		return line
	}
	return err.Error()
}

func (doc *pdfDocument) Kind() constants.SourceKind { return constants.SourceKindPDF }

func (doc *pdfDocument) PageCount() int { return doc.pages }

// Page renders a single page with pdftoppm. Each call renders only the page asked for.
func (doc *pdfDocument) Page(ctx context.Context, index int) (ocr.Page, error) {
	if index < 0 || index >= doc.pages {
		return ocr.Page{}, fmt.Errorf("page %d out of range [0,%d)", index, doc.pages)
	}
	ctx, cancel := context.WithTimeout(ctx, doc.d.cfg.RenderTimeout)
	defer cancel()

	n := strconv.Itoa(index + 1)
	prefix := doc.ws.path(fmt.Sprintf("page-%03d", index+1))
	args := []string{"-f", n, "-l", n, "-r", strconv.Itoa(doc.d.cfg.DPI), "-png", "-singlefile", doc.input, prefix}
	if _, stderr, err := doc.d.runner.Run(ctx, doc.d.cfg.Pdftoppm, doc.d.logger, args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ocr.Page{}, fmt.Errorf("render page %d: %w", index, ctxErr)
		}
		return ocr.Page{}, fmt.Errorf("render page %d: %s", index, firstLine(string(stderr), err))
	}
	path := prefix + ".png"
	if _, err := os.Stat(path); err != nil {
		return ocr.Page{}, fmt.Errorf("render page %d: no output: %w", index, err)
	}
	return ocr.Page{Index: index, Path: path, Format: constants.ContentTypePNG}, nil
}

func (doc *pdfDocument) Close() error { return doc.ws.Close() }

package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
)

// images beyond this many pixels are rejected before a full decode
const maxImagePixels = 1 << 27

type imageDocument struct {
	ws   *workspace
	page ocr.Page
}

func (d *Decoder) decodeImage(_ context.Context, ws *workspace, data []byte) (Document, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt("malformed image: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, corrupt("image has no pixels (%dx%d)", cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > maxImagePixels {
		return nil, corrupt("image too large to decode (%dx%d)", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt("malformed image: %v", err)
	}

	page := ocr.Page{Index: 0, Width: cfg.Width, Height: cfg.Height}
	if limit := d.cfg.MaxImageDimension; limit > 0 && (cfg.Width > limit || cfg.Height > limit) {
		img = downscale(img, limit)
		b := img.Bounds()
		page.Width, page.Height = b.Dx(), b.Dy()
		d.logger.Debug("image downscaled", "from_w", cfg.Width, "from_h", cfg.Height, "to_w", page.Width, "to_h", page.Height)
	}

	// re-encoding as PNG gives the engine a single, lossless input format
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}
	page.Path = ws.path("page-001.png")
	page.Format = constants.ContentTypePNG
	if err := os.WriteFile(page.Path, buf.Bytes(), 0o600); err != nil {
		return nil, tempStorage("write page image", err)
	}
	d.logger.Debug("image decoded", "format", format, "width", page.Width, "height", page.Height)
	return &imageDocument{ws: ws, page: page}, nil
}

// downscale fits img into a limit x limit box, keeping the aspect ratio.
func downscale(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = h * limit / w
		w = limit
	} else {
		w = w * limit / h
		h = limit
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func (doc *imageDocument) Kind() constants.SourceKind { return constants.SourceKindImage }

func (doc *imageDocument) PageCount() int { return 1 }

func (doc *imageDocument) Page(_ context.Context, index int) (ocr.Page, error) {
	if index != 0 {
		return ocr.Page{}, fmt.Errorf("page %d out of range [0,1)", index)
	}
	return doc.page, nil
}

func (doc *imageDocument) Close() error { return doc.ws.Close() }

package constants

import (
	"mime"
	"strings"
)

// SourceKind is the closed set of document kinds the decoder understands.
type SourceKind string

const (
	SourceKindImage SourceKind = "image"
	SourceKindPDF   SourceKind = "pdf"
)

// Accepted content types.
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypePDF  = "application/pdf"
)

// ContentTypeKinds maps each accepted content type to its source kind.
var ContentTypeKinds = map[string]SourceKind{
	ContentTypePNG:  SourceKindImage,
	ContentTypeJPEG: SourceKindImage,
	ContentTypePDF:  SourceKindPDF,
}

// NormalizeContentType lowercases and strips parameters ("; charset=...").
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// KindForContentType resolves the source kind of a declared content type.
func KindForContentType(ct string) (SourceKind, bool) {
	kind, ok := ContentTypeKinds[NormalizeContentType(ct)]
	return kind, ok
}

// ExtContentTypes is used by the CLI to guess a content type from a file name.
var ExtContentTypes = map[string]string{
	"png":  ContentTypePNG,
	"jpg":  ContentTypeJPEG,
	"jpeg": ContentTypeJPEG,
	"pdf":  ContentTypePDF,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

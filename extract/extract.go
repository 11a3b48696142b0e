// Package extract turns raw files into page-structured text. Extractors
// are selected by MIME type with a filename-suffix fallback.
package extract

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ahasler/recall/infer"
)

// Page is one unit of extracted text. Single-page formats (plain text,
// images) produce exactly one page.
type Page struct {
	Index  int
	Text   string
	Method string // native, ocr, transcript
}

// Result is the output of one extractor run.
type Result struct {
	Pages []Page
	// Segments carries transcript timestamps for audio files.
	Segments []infer.TranscriptSegment
	Language string
}

// Extractor converts one file into text pages.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// Registry routes files to extractors by MIME type. Unknown MIME types
// fall back to the filename suffix.
type Registry struct {
	byMIME   map[string]Extractor
	bySuffix map[string]Extractor
	log      *slog.Logger
}

// NewRegistry builds a registry with no extractors registered.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		byMIME:   map[string]Extractor{},
		bySuffix: map[string]Extractor{},
		log:      log,
	}
}

// RegisterMIME routes an exact MIME type, or a whole top-level type when
// given a prefix like "image/".
func (r *Registry) RegisterMIME(mime string, e Extractor) {
	r.byMIME[mime] = e
}

// RegisterSuffix routes a filename suffix such as ".md".
func (r *Registry) RegisterSuffix(suffix string, e Extractor) {
	r.bySuffix[strings.ToLower(suffix)] = e
}

// Lookup finds the extractor for a MIME type and filename. Returns nil
// when no route matches.
func (r *Registry) Lookup(mime, filename string) Extractor {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if e, ok := r.byMIME[mime]; ok {
		return e
	}
	if i := strings.Index(mime, "/"); i > 0 {
		if e, ok := r.byMIME[mime[:i+1]]; ok {
			return e
		}
	}
	if e, ok := r.bySuffix[strings.ToLower(filepath.Ext(filename))]; ok {
		return e
	}
	return nil
}

// Extract runs the matching extractor. A failing extractor degrades to an
// empty result so one unreadable file never sinks the whole payload; the
// caller decides whether an empty result is worth indexing.
func (r *Registry) Extract(ctx context.Context, mime, path string) *Result {
	e := r.Lookup(mime, path)
	if e == nil {
		r.log.Warn("no extractor for file", "mime", mime, "path", path)
		return &Result{}
	}
	res, err := e.Extract(ctx, path)
	if err != nil {
		r.log.Warn("extraction failed, indexing without content", "mime", mime, "path", path, "err", err)
		return &Result{}
	}
	return res
}

// DefaultRegistry wires the standard extractor set.
func DefaultRegistry(vision infer.VisionProvider, visionModel string, transcriber *infer.Transcriber, log *slog.Logger) *Registry {
	r := NewRegistry(log)

	text := &TextExtractor{}
	r.RegisterMIME("text/", text)
	for _, s := range []string{".txt", ".md", ".csv", ".log"} {
		r.RegisterSuffix(s, text)
	}

	ocr := NewImageExtractor(vision, visionModel)
	r.RegisterMIME("image/", ocr)

	r.RegisterMIME("application/pdf", NewPDFExtractor(ocr))
	r.RegisterSuffix(".pdf", NewPDFExtractor(ocr))

	sheet := &SheetExtractor{}
	r.RegisterMIME("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", sheet)
	r.RegisterSuffix(".xlsx", sheet)

	if transcriber != nil {
		r.RegisterMIME("audio/", NewAudioExtractor(transcriber))
	}
	return r
}

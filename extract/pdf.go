package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads the text layer page by page. Pages without a text
// layer (scans) fall back to vision OCR individually when an
// ImageExtractor is wired, so mixed documents keep every page.
type PDFExtractor struct {
	ocr *ImageExtractor
}

// NewPDFExtractor wires the optional OCR fallback.
func NewPDFExtractor(ocr *ImageExtractor) *PDFExtractor {
	return &PDFExtractor{ocr: ocr}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	pages := make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			// Pages that fail to extract keep an empty text slot so page
			// indices stay aligned with the document.
			if t, err := page.GetPlainText(nil); err == nil {
				text = strings.TrimSpace(t)
			}
		}
		pages = append(pages, Page{Index: i - 1, Text: text, Method: "native"})
	}

	if e.ocr != nil {
		ocrEmptyPages(ctx, e.ocr, path, pages)
	}
	return &Result{Pages: pages}, nil
}

// pageRecognizer is the OCR surface the per-page fallback needs.
type pageRecognizer interface {
	recognizePDFPage(ctx context.Context, path string, page int) (string, error)
}

// ocrEmptyPages OCRs each page that yielded no text layer, keeping page
// indices intact. A page whose OCR fails stays empty; the rest of the
// document is unaffected. Returns the number of pages filled.
func ocrEmptyPages(ctx context.Context, rec pageRecognizer, path string, pages []Page) int {
	filled := 0
	for i := range pages {
		if pages[i].Text != "" {
			continue
		}
		text, err := rec.recognizePDFPage(ctx, path, pages[i].Index)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		pages[i].Text = strings.TrimSpace(text)
		pages[i].Method = "ocr"
		filled++
	}
	return filled
}

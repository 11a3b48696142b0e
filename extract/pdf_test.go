package extract

import (
	"context"
	"errors"
	"testing"
)

// stubPageOCR returns canned text per page index and records calls.
type stubPageOCR struct {
	texts map[int]string
	calls []int
	err   error
}

func (s *stubPageOCR) recognizePDFPage(ctx context.Context, path string, page int) (string, error) {
	s.calls = append(s.calls, page)
	if s.err != nil {
		return "", s.err
	}
	return s.texts[page], nil
}

func TestOCREmptyPagesFillsEachEmptyPage(t *testing.T) {
	pages := []Page{
		{Index: 0, Text: "Hello from page one", Method: "native"},
		{Index: 1, Text: "", Method: "native"},
		{Index: 2, Text: "", Method: "native"},
	}
	rec := &stubPageOCR{texts: map[int]string{1: "scanned minutes", 2: "scanned appendix"}}

	filled := ocrEmptyPages(context.Background(), rec, "report.pdf", pages)

	if filled != 2 {
		t.Fatalf("filled = %d, want 2", filled)
	}
	if len(rec.calls) != 2 || rec.calls[0] != 1 || rec.calls[1] != 2 {
		t.Fatalf("OCR calls = %v, want [1 2]", rec.calls)
	}
	if pages[0].Text != "Hello from page one" || pages[0].Method != "native" {
		t.Fatalf("text page touched: %+v", pages[0])
	}
	if pages[1].Text != "scanned minutes" || pages[1].Method != "ocr" {
		t.Fatalf("page 1 = %+v", pages[1])
	}
	if pages[2].Text != "scanned appendix" || pages[2].Method != "ocr" {
		t.Fatalf("page 2 = %+v", pages[2])
	}
	for i, p := range pages {
		if p.Index != i {
			t.Fatalf("page index %d became %d", i, p.Index)
		}
	}
}

func TestOCREmptyPagesDegradesOnError(t *testing.T) {
	pages := []Page{
		{Index: 0, Text: "", Method: "native"},
		{Index: 1, Text: "kept", Method: "native"},
	}
	rec := &stubPageOCR{err: errors.New("endpoint rejects pdf")}

	if filled := ocrEmptyPages(context.Background(), rec, "scan.pdf", pages); filled != 0 {
		t.Fatalf("filled = %d, want 0", filled)
	}
	if pages[0].Text != "" || pages[1].Text != "kept" {
		t.Fatalf("pages mutated on OCR failure: %+v", pages)
	}
}

package extract

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestTextExtractor(t *testing.T) {
	e := &TextExtractor{}

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("meeting notes\nsecond line"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Pages) != 1 || !strings.Contains(res.Pages[0].Text, "second line") {
		t.Fatalf("pages = %+v", res.Pages)
	}
	if res.Pages[0].Method != "native" {
		t.Fatalf("method = %s", res.Pages[0].Method)
	}
}

func TestTextExtractorUTF16(t *testing.T) {
	e := &TextExtractor{}

	// "hi" as UTF-16LE with BOM.
	data := []byte{0xFF, 0xFE, 'h', 0x00, 'i', 0x00}
	path := filepath.Join(t.TempDir(), "utf16.txt")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Pages) != 1 || res.Pages[0].Text != "hi" {
		t.Fatalf("pages = %+v", res.Pages)
	}
}

func TestTextExtractorInvalidUTF8(t *testing.T) {
	e := &TextExtractor{}

	path := filepath.Join(t.TempDir(), "latin1.txt")
	if err := os.WriteFile(path, []byte{'c', 'a', 'f', 0xE9}, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Pages) != 1 || !strings.HasPrefix(res.Pages[0].Text, "caf") {
		t.Fatalf("pages = %+v", res.Pages)
	}
}

func TestSheetExtractor(t *testing.T) {
	wb := excelize.NewFile()
	wb.SetCellValue("Sheet1", "A1", "item")
	wb.SetCellValue("Sheet1", "B1", "price")
	wb.SetCellValue("Sheet1", "A2", "coffee")
	wb.SetCellValue("Sheet1", "B2", 4.5)

	path := filepath.Join(t.TempDir(), "budget.xlsx")
	if err := wb.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	e := &SheetExtractor{}
	res, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Pages) != 1 {
		t.Fatalf("pages = %+v", res.Pages)
	}
	if !strings.Contains(res.Pages[0].Text, "item\tprice") || !strings.Contains(res.Pages[0].Text, "coffee") {
		t.Fatalf("text = %q", res.Pages[0].Text)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(slog.Default())
	text := &TextExtractor{}
	r.RegisterMIME("text/", text)
	r.RegisterSuffix(".md", text)
	sheet := &SheetExtractor{}
	r.RegisterMIME("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", sheet)

	if r.Lookup("text/plain; charset=utf-8", "a.bin") != Extractor(text) {
		t.Fatal("text/plain should route to text extractor")
	}
	if r.Lookup("application/octet-stream", "README.md") != Extractor(text) {
		t.Fatal("unknown mime should fall back to suffix")
	}
	if r.Lookup("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "b.xlsx") != Extractor(sheet) {
		t.Fatal("exact mime should route to sheet extractor")
	}
	if r.Lookup("application/octet-stream", "mystery.bin") != nil {
		t.Fatal("unroutable file should return nil")
	}
}

func TestRegistryExtractDegrades(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterMIME("text/", &TextExtractor{})

	// Missing file: the extractor errors, the registry degrades to empty.
	res := r.Extract(context.Background(), "text/plain", "/does/not/exist.txt")
	if res == nil || len(res.Pages) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}

	// No route at all degrades the same way.
	res = r.Extract(context.Background(), "application/x-blob", "raw.bin")
	if res == nil || len(res.Pages) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

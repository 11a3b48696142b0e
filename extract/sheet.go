package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetExtractor flattens an xlsx workbook into one page per sheet, rows
// joined with tabs so table structure survives lexical search.
type SheetExtractor struct{}

func (e *SheetExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer wb.Close()

	var pages []Page
	for i, name := range wb.GetSheetList() {
		rows, err := wb.GetRows(name)
		if err != nil {
			continue
		}
		var b strings.Builder
		b.WriteString(name)
		b.WriteString("\n")
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		text := strings.TrimSpace(b.String())
		if text == name {
			continue
		}
		pages = append(pages, Page{Index: i, Text: text, Method: "native"})
	}
	return &Result{Pages: pages}, nil
}

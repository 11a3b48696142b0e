package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func testIndex(t *testing.T, dim int) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "vectors.db"), dim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestUpsertAndSearch(t *testing.T) {
	ix := testIndex(t, 3)
	ctx := context.Background()

	rows := []Row{
		{ID: "d1::page::0#block", DocID: "d1", Text: "alpha", URI: "u1", MimeType: "text/plain", Vector: []float32{1, 0, 0}},
		{ID: "d2::page::0#block", DocID: "d2", Text: "beta", URI: "u2", MimeType: "text/plain", Vector: []float32{0, 1, 0}},
	}
	if err := ix.Upsert(ctx, TableDocuments, rows); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := ix.Search(ctx, TableDocuments, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].ID != "d1::page::0#block" {
		t.Fatalf("nearest = %s", matches[0].ID)
	}
	if matches[0].Score < 0.99 {
		t.Fatalf("identical vector score = %f", matches[0].Score)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatal("results not sorted by similarity")
	}
}

func TestUpsertLastWriteWins(t *testing.T) {
	ix := testIndex(t, 3)
	ctx := context.Background()

	if err := ix.Upsert(ctx, TableDocuments, []Row{
		{ID: "b1", DocID: "d1", Text: "old", Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := ix.Upsert(ctx, TableDocuments, []Row{
		{ID: "b1", DocID: "d1", Text: "new", Vector: []float32{0, 1, 0}},
	}); err != nil {
		t.Fatal(err)
	}

	if n, _ := ix.Count(ctx, TableDocuments); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
	matches, err := ix.Search(ctx, TableDocuments, []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Text != "new" {
		t.Fatalf("text = %q, want latest write", matches[0].Text)
	}
}

func TestDimensionMismatch(t *testing.T) {
	ix := testIndex(t, 3)
	ctx := context.Background()

	err := ix.Upsert(ctx, TableDocuments, []Row{{ID: "b", DocID: "d", Vector: []float32{1, 0}}})
	if err == nil {
		t.Fatal("expected dimension error on upsert")
	}
	if _, err := ix.Search(ctx, TableDocuments, []float32{1}, 5); err == nil {
		t.Fatal("expected dimension error on search")
	}
}

func TestDeleteDoc(t *testing.T) {
	ix := testIndex(t, 3)
	ctx := context.Background()

	if err := ix.Upsert(ctx, TableDocuments, []Row{
		{ID: "a1", DocID: "d1", Vector: []float32{1, 0, 0}},
		{ID: "a2", DocID: "d1", Vector: []float32{0, 1, 0}},
		{ID: "b1", DocID: "d2", Vector: []float32{0, 0, 1}},
	}); err != nil {
		t.Fatal(err)
	}

	if err := ix.DeleteDoc(ctx, TableDocuments, "d1"); err != nil {
		t.Fatalf("DeleteDoc: %v", err)
	}
	if n, _ := ix.Count(ctx, TableDocuments); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestTablesAreSeparate(t *testing.T) {
	ix := testIndex(t, 3)
	ctx := context.Background()

	if err := ix.Upsert(ctx, TableImages, []Row{
		{ID: "img1", DocID: "d1", URI: "u", MimeType: "image/jpeg", Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatal(err)
	}
	if n, _ := ix.Count(ctx, TableDocuments); n != 0 {
		t.Fatal("image row leaked into documents table")
	}
	if _, err := ix.Search(ctx, "secrets", []float32{1, 0, 0}, 1); err == nil {
		t.Fatal("unknown table must be rejected")
	}
}

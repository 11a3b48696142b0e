package recall

import (
	"context"
	"testing"
)

func TestNewRejectsUnknownEmbedProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.Embedding.Provider = "carrier-pigeon"

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestNewRejectsMissingEmbeddingDim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.EmbeddingDim = 0

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected config error")
	}
}

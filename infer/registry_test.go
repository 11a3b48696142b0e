package infer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistryLoadsOnce(t *testing.T) {
	r := NewRegistry(nil, slog.Default())

	var loads atomic.Int32
	loader := func(ctx context.Context) (any, error) {
		loads.Add(1)
		return "handle", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.GetOrLoad(context.Background(), "embedder", loader)
			if err != nil || h != "handle" {
				t.Errorf("GetOrLoad: %v, %v", h, err)
			}
		}()
	}
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Fatalf("loader ran %d times, want 1", n)
	}
}

func TestRegistryWaitsForMemory(t *testing.T) {
	g := &pressureGuard{pressured: true}
	r := NewRegistry(g, slog.Default())

	_, err := r.GetOrLoad(context.Background(), "m", func(ctx context.Context) (any, error) {
		if g.pressured {
			t.Error("loader ran while under memory pressure")
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
}

func TestRegistryUnload(t *testing.T) {
	r := NewRegistry(nil, slog.Default())

	var loads int
	loader := func(ctx context.Context) (any, error) {
		loads++
		return loads, nil
	}

	if _, err := r.GetOrLoad(context.Background(), "m", loader); err != nil {
		t.Fatal(err)
	}
	r.Unload("m")
	h, err := r.GetOrLoad(context.Background(), "m", loader)
	if err != nil {
		t.Fatal(err)
	}
	if h != 2 {
		t.Fatalf("expected reload after Unload, got handle %v", h)
	}
}

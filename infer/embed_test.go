package infer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"
)

// stubProvider records batch sizes and returns deterministic vectors.
type stubProvider struct {
	batches [][]string
}

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "ok"}, nil
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.batches = append(s.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

// pressureGuard reports pressure until released.
type pressureGuard struct {
	pressured bool
}

func (g *pressureGuard) UnderPressure(context.Context) bool { return g.pressured }
func (g *pressureGuard) WaitForRecovery(context.Context) error {
	g.pressured = false
	return nil
}

// failProvider always fails to embed.
type failProvider struct{}

func (failProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "ok"}, nil
}

func (failProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("backend gone")
}

func TestEmbedFailureCarriesSentinel(t *testing.T) {
	e := NewTextEmbedder(failProvider{}, nil, slog.Default())
	_, err := e.Embed(context.Background(), texts(3))
	if !errors.Is(err, ErrEmbeddingFailed) {
		t.Fatalf("err = %v, want ErrEmbeddingFailed", err)
	}
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%02d", i)
	}
	return out
}

func TestEmbedOrderAndNormalization(t *testing.T) {
	p := &stubProvider{}
	e := NewTextEmbedder(p, nil, slog.Default())

	in := texts(10)
	vecs, err := e.Embed(context.Background(), in)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != len(in) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(in))
	}
	for i, v := range vecs {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Fatalf("vector %d not unit length: %f", i, sum)
		}
	}
	// Default batch size is 8.
	if len(p.batches[0]) != 8 || len(p.batches[1]) != 2 {
		t.Fatalf("batch sizes = %d, %d; want 8, 2", len(p.batches[0]), len(p.batches[1]))
	}
}

func TestEmbedShrinksBatchUnderPressure(t *testing.T) {
	p := &stubProvider{}
	g := &pressureGuard{pressured: true}
	e := NewTextEmbedder(p, g, slog.Default())

	if _, err := e.Embed(context.Background(), texts(20)); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	// First batch runs at 8, then pressure halves the remainder to 4.
	if len(p.batches[0]) != 8 {
		t.Fatalf("first batch = %d, want 8", len(p.batches[0]))
	}
	if len(p.batches[1]) != 4 {
		t.Fatalf("second batch = %d, want 4", len(p.batches[1]))
	}
	if g.pressured {
		t.Fatal("guard should have been drained by WaitForRecovery")
	}
}

func TestCentroid(t *testing.T) {
	got := Centroid([][]float32{{1, 0}, {0, 1}})
	want := float32(1 / math.Sqrt2)
	if math.Abs(float64(got[0]-want)) > 1e-5 || math.Abs(float64(got[1]-want)) > 1e-5 {
		t.Fatalf("Centroid = %v", got)
	}
	if Centroid(nil) != nil {
		t.Fatal("empty centroid should be nil")
	}
}

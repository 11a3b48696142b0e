package infer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

// stubRerankClient returns canned logits per model and can fail the
// primary model.
type stubRerankClient struct {
	failModel string
	scores    map[string][]float64 // model -> logits appended per call
	calls     []string             // models used, in call order
}

func (s *stubRerankClient) Score(ctx context.Context, model, query string, docs []string) ([]float64, error) {
	s.calls = append(s.calls, model)
	if model == s.failModel {
		return nil, errors.New("model crashed")
	}
	out := make([]float64, len(docs))
	copy(out, s.scores[model])
	return out, nil
}

func TestRerankOrdering(t *testing.T) {
	client := &stubRerankClient{
		scores: map[string][]float64{"primary": {-1, 3, 0.5}},
	}
	r := NewReranker(client, "primary", "fallback", slog.Default())

	ranked, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if ranked[0].Index != 1 || ranked[1].Index != 2 || ranked[2].Index != 0 {
		t.Fatalf("order = %v", ranked)
	}
	for _, rk := range ranked {
		if rk.Score <= 0 || rk.Score >= 1 {
			t.Fatalf("score %f outside (0,1)", rk.Score)
		}
	}
}

func TestRerankStableTies(t *testing.T) {
	client := &stubRerankClient{
		scores: map[string][]float64{"primary": {1, 1, 1}},
	}
	r := NewReranker(client, "primary", "", slog.Default())

	ranked, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	for i, rk := range ranked {
		if rk.Index != i {
			t.Fatalf("equal scores must keep input order, got %v", ranked)
		}
	}
}

func TestRerankFallsBackOnFailure(t *testing.T) {
	client := &stubRerankClient{
		failModel: "primary",
		scores:    map[string][]float64{"fallback": {2, 1}},
	}
	r := NewReranker(client, "primary", "fallback", slog.Default())

	ranked, err := r.Rerank(context.Background(), "q", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Rerank with fallback: %v", err)
	}
	if ranked[0].Index != 0 {
		t.Fatalf("order = %v", ranked)
	}
	// Primary tried once, then fallback.
	if client.calls[0] != "primary" || client.calls[1] != "fallback" {
		t.Fatalf("calls = %v", client.calls)
	}
}

func TestRerankFailsWithoutFallback(t *testing.T) {
	client := &stubRerankClient{failModel: "primary"}
	r := NewReranker(client, "primary", "", slog.Default())

	if _, err := r.Rerank(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("expected error with no fallback configured")
	}
}

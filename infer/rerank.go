package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

const rerankBatch = 16

// RerankClient scores query/document pairs. The HTTP implementation talks
// to a TEI-style /rerank endpoint; tests substitute stubs.
type RerankClient interface {
	// Score returns one raw relevance logit per document.
	Score(ctx context.Context, model, query string, docs []string) ([]float64, error)
}

// HTTPRerankClient is the TEI-style cross-encoder client.
type HTTPRerankClient struct {
	base openAICompatClient
}

// NewRerankClient creates the HTTP reranking client.
func NewRerankClient(cfg Config) *HTTPRerankClient {
	return &HTTPRerankClient{base: newOpenAICompatClient(cfg)}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (c *HTTPRerankClient) Score(ctx context.Context, model, query string, docs []string) ([]float64, error) {
	respBody, err := c.base.doPost(ctx, "/rerank", rerankRequest{
		Model:     model,
		Query:     query,
		Texts:     docs,
		RawScores: true,
	})
	if err != nil {
		return nil, err
	}

	var results []rerankResult
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	scores := make([]float64, len(docs))
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.Score
		}
	}
	return scores, nil
}

// Ranked is one document with its relevance score after reranking.
type Ranked struct {
	Index int     // position in the input slice
	Score float64 // sigmoid-squashed relevance in (0, 1)
}

// Reranker scores documents against a query with a cross-encoder, falling
// back to a secondary model when the primary fails mid-request.
type Reranker struct {
	client   RerankClient
	model    string
	fallback string
	log      *slog.Logger
}

// NewReranker wires a reranker with its fallback model name. fallback may
// be empty to disable the fallback path.
func NewReranker(client RerankClient, model, fallback string, log *slog.Logger) *Reranker {
	if log == nil {
		log = slog.Default()
	}
	return &Reranker{client: client, model: model, fallback: fallback, log: log}
}

// Rerank scores docs in batches of 16 and returns them sorted by
// descending score. Equal scores keep their input order. If a batch fails
// on the primary model, the request switches to the fallback model once
// and continues; a fallback failure fails the request.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []string) ([]Ranked, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	model := r.model
	scores := make([]float64, 0, len(docs))
	for start := 0; start < len(docs); start += rerankBatch {
		end := start + rerankBatch
		if end > len(docs) {
			end = len(docs)
		}

		raw, err := r.client.Score(ctx, model, query, docs[start:end])
		if err != nil && model == r.model && r.fallback != "" {
			r.log.Warn("reranker failed, switching to fallback model",
				"model", model, "fallback", r.fallback, "err", err)
			model = r.fallback
			raw, err = r.client.Score(ctx, model, query, docs[start:end])
		}
		if err != nil {
			return nil, fmt.Errorf("rerank batch [%d:%d]: %w", start, end, err)
		}
		if len(raw) != end-start {
			return nil, fmt.Errorf("rerank batch [%d:%d]: got %d scores", start, end, len(raw))
		}
		for _, s := range raw {
			scores = append(scores, sigmoid(s))
		}
	}

	ranked := make([]Ranked, len(docs))
	for i := range docs {
		ranked[i] = Ranked{Index: i, Score: scores[i]}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

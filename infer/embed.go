package infer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

const (
	defaultEmbedBatch = 8
	minEmbedBatch     = 2
)

// ErrEmbeddingFailed marks a batch the provider could not embed. Text
// embedding has no fallback model; the request fails.
var ErrEmbeddingFailed = errors.New("infer: embedding generation failed")

// TextEmbedder batches texts through an embedding provider, shrinking the
// batch size while the host is under memory pressure. Output order matches
// input order and every vector is L2-normalized.
type TextEmbedder struct {
	provider Provider
	guard    MemoryGuard
	log      *slog.Logger

	batchSize int
}

// NewTextEmbedder wraps provider. A nil guard disables backpressure.
func NewTextEmbedder(provider Provider, guard MemoryGuard, log *slog.Logger) *TextEmbedder {
	if guard == nil {
		guard = nopGuard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &TextEmbedder{
		provider:  provider,
		guard:     guard,
		log:       log,
		batchSize: defaultEmbedBatch,
	}
}

// Embed returns one normalized vector per input text, in input order.
func (e *TextEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	batch := e.batchSize
	for start := 0; start < len(texts); {
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := e.provider.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: batch [%d:%d]: %w", ErrEmbeddingFailed, start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: batch [%d:%d]: got %d vectors", ErrEmbeddingFailed, start, end, len(vecs))
		}
		for _, v := range vecs {
			out = append(out, normalize(v))
		}
		start = end

		// Under pressure, halve the batch for the remainder of the request
		// and wait for headroom before continuing.
		if start < len(texts) && e.guard.UnderPressure(ctx) {
			if batch > minEmbedBatch {
				batch = batch / 2
				if batch < minEmbedBatch {
					batch = minEmbedBatch
				}
				e.log.Warn("memory pressure during embedding, shrinking batch", "batch", batch)
			}
			if err := e.guard.WaitForRecovery(ctx); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// normalize scales v to unit L2 length. Zero vectors pass through.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Centroid averages a set of normalized vectors and renormalizes the
// result. Used for page-level vectors pooled from block vectors.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	acc := make([]float32, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += v[i]
		}
	}
	n := float32(len(vecs))
	for i := range acc {
		acc[i] /= n
	}
	return normalize(acc)
}

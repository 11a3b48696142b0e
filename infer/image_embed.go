package infer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// ImageEmbedder produces joint-space image vectors from a SigLIP-style
// serving endpoint. The endpoint accepts base64 image payloads and
// returns one vector per image.
type ImageEmbedder struct {
	base openAICompatClient
}

// NewImageEmbedder creates the client for an image embedding endpoint.
func NewImageEmbedder(cfg Config) *ImageEmbedder {
	return &ImageEmbedder{base: newOpenAICompatClient(cfg)}
}

type imageEmbedRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images"` // base64
}

type imageEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedFile reads the image at path and returns its normalized vector.
func (e *ImageEmbedder) EmbedFile(ctx context.Context, path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image embed read %s: %w", path, err)
	}

	respBody, err := e.base.doPost(ctx, "/embed", imageEmbedRequest{
		Model:  e.base.cfg.Model,
		Images: []string{base64.StdEncoding.EncodeToString(raw)},
	})
	if err != nil {
		return nil, err
	}

	var resp imageEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding image embed response: %w", err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("image embed: got %d vectors, want 1", len(resp.Embeddings))
	}
	return normalize(resp.Embeddings[0]), nil
}

package infer

import (
	"context"
	"fmt"
	"strings"
)

const answerSystemPrompt = `You are a personal knowledge assistant. Answer the question using only the provided context passages. If the context does not contain the answer, say so. Be concise.`

// Answerer produces a grounded natural-language answer over retrieved
// passages using the chat provider.
type Answerer struct {
	provider Provider
	model    string
}

// NewAnswerer wraps the chat provider used for answer synthesis.
func NewAnswerer(provider Provider, model string) *Answerer {
	return &Answerer{provider: provider, model: model}
}

// Answer builds a context prompt from the passages and asks the model.
func (a *Answerer) Answer(ctx context.Context, question string, passages []string) (string, error) {
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, p)
	}

	resp, err := a.provider.Chat(ctx, ChatRequest{
		Model: a.model,
		Messages: []Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Context:\n%sQuestion: %s", b.String(), question)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

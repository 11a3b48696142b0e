package extract

import (
	"context"
	"strings"

	"github.com/ahasler/recall/infer"
)

// AudioExtractor runs speech recognition and returns the transcript as a
// single page plus its timestamped segments.
type AudioExtractor struct {
	transcriber *infer.Transcriber
}

// NewAudioExtractor wires the speech client.
func NewAudioExtractor(t *infer.Transcriber) *AudioExtractor {
	return &AudioExtractor{transcriber: t}
}

func (e *AudioExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	tr, err := e.transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return &Result{Language: tr.Language}, nil
	}
	return &Result{
		Pages:    []Page{{Index: 0, Text: text, Method: "transcript"}},
		Segments: tr.Segments,
		Language: tr.Language,
	}, nil
}

package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahasler/recall/infer"
)

const ocrPrompt = `Transcribe all text visible in this image. Preserve the reading order. If the image contains no text, describe its content in one sentence.`

// ImageExtractor runs vision OCR over an image file.
type ImageExtractor struct {
	vision infer.VisionProvider
	model  string
}

// NewImageExtractor wires the vision provider used for OCR.
func NewImageExtractor(vision infer.VisionProvider, model string) *ImageExtractor {
	return &ImageExtractor{vision: vision, model: model}
}

func (e *ImageExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	text, err := e.recognize(ctx, path, mimeForPath(path))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return &Result{}, nil
	}
	return &Result{
		Pages: []Page{{Index: 0, Text: text, Method: "ocr"}},
	}, nil
}

func (e *ImageExtractor) recognize(ctx context.Context, path, mimeType string) (string, error) {
	return e.recognizeWith(ctx, path, mimeType, ocrPrompt)
}

func (e *ImageExtractor) recognizeWith(ctx context.Context, path, mimeType, prompt string) (string, error) {
	if e.vision == nil {
		return "", fmt.Errorf("no vision provider configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(raw))
	resp, err := e.vision.ChatWithImages(ctx, infer.VisionChatRequest{
		Model: e.model,
		Messages: []infer.VisionMessage{{
			Role: "user",
			Content: []infer.ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &infer.ImageURL{URL: dataURL}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision ocr: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// recognizePDFPage OCRs one page of a PDF through the vision endpoint.
// page is zero-based. Only serving stacks that accept PDF attachments
// will succeed; callers degrade gracefully when this errors.
func (e *ImageExtractor) recognizePDFPage(ctx context.Context, path string, page int) (string, error) {
	prompt := fmt.Sprintf("Transcribe all text on page %d of this document. Preserve the reading order. Output only that page's text.", page+1)
	return e.recognizeWith(ctx, path, "application/pdf", prompt)
}

func mimeForPath(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

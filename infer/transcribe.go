package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// TranscriptSegment is one timestamped span of recognized speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the result of speech recognition for one audio file.
type Transcript struct {
	Text     string              `json:"text"`
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`
}

// Transcriber sends audio to an OpenAI-style /v1/audio/transcriptions
// endpoint (faster-whisper serving stacks expose the same API).
type Transcriber struct {
	base openAICompatClient
}

// NewTranscriber creates the speech recognition client.
func NewTranscriber(cfg Config) *Transcriber {
	return &Transcriber{base: newOpenAICompatClient(cfg)}
}

// Transcribe uploads the audio file at path and returns the transcript
// with segment timestamps.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("transcribe read %s: %w", path, err)
	}
	if err := mw.WriteField("model", t.base.cfg.Model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := t.base.cfg.BaseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.base.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.base.cfg.APIKey)
	}

	resp, err := t.base.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading transcribe response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcribe error %d: %s", resp.StatusCode, string(respBody))
	}

	var out Transcript
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return &out, nil
}

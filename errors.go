package recall

import (
	"errors"

	"github.com/ahasler/recall/infer"
	"github.com/ahasler/recall/ingest"
	"github.com/ahasler/recall/retrieve"
)

var (
	// ErrEmbeddingFailed is returned when embedding generation fails.
	// Text embedding has no fallback model; the request fails.
	ErrEmbeddingFailed = infer.ErrEmbeddingFailed

	// ErrModelUnavailable is returned when an inference endpoint stays
	// unreachable through the retry budget.
	ErrModelUnavailable = infer.ErrModelUnavailable

	// ErrBundleWrite is returned when the graph bundle transaction fails.
	// The payload fails as a whole; no partial graph state is left behind.
	ErrBundleWrite = ingest.ErrBundleWrite

	// ErrNoResults is returned when retrieval yields no matching documents.
	ErrNoResults = retrieve.ErrNoResults

	// ErrInvalidPayload is returned for ingest payloads missing required fields.
	ErrInvalidPayload = ingest.ErrInvalidPayload

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("recall: invalid configuration")
)

// Package ingest contains the document processor and queue worker that
// turn connector payloads into graph bundles, vector rows, and dedup
// fingerprints.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload marks payloads missing required fields. These go
// straight to the dead-letter list; retrying cannot fix them.
var ErrInvalidPayload = errors.New("ingest: invalid payload")

// ErrBundleWrite marks a failed graph bundle transaction. The payload
// fails as a whole; no partial graph state is left behind.
var ErrBundleWrite = errors.New("ingest: graph bundle write failed")

// Payload is one queue element, produced by a connector.
type Payload struct {
	Document      Document       `json:"document"`
	Files         []File         `json:"files"`
	Block         *Block         `json:"block,omitempty"`
	Email         *Email         `json:"email,omitempty"`
	Image         *Image         `json:"image,omitempty"`
	Entities      *Entities      `json:"entities,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Document identifies the logical unit of ingestion.
type Document struct {
	DocID      string `json:"doc_id"`
	Version    string `json:"version,omitempty"`
	Title      string `json:"title,omitempty"`
	Source     string `json:"source,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	ValidFrom  string `json:"valid_from,omitempty"`
	ValidTo    string `json:"valid_to,omitempty"`
	SystemFrom string `json:"system_from,omitempty"`
	SystemTo   string `json:"system_to,omitempty"`
}

// File points at one artifact to localize, store, and extract.
// AuthHeaders pass connector credentials through to HTTP downloads.
type File struct {
	URI             string            `json:"uri"`
	MimeType        string            `json:"mime_type"`
	SHA256          string            `json:"sha256,omitempty"`
	SizeBytes       int64             `json:"size_bytes,omitempty"`
	CreatedAt       string            `json:"created_at,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	AuthHeaders     map[string]string `json:"auth_headers,omitempty"`
}

// Block is a pre-extracted text unit passed through by a connector
// (chat messages, notes, web history).
type Block struct {
	BlockID     string    `json:"block_id"`
	BlockType   string    `json:"block_type"`
	BoundingBox string    `json:"bounding_box,omitempty"`
	TextContent string    `json:"text_content"`
	TextVector  []float32 `json:"text_vector,omitempty"`
	PageID      string    `json:"page_id,omitempty"`
}

// Email is the mail side-facet.
type Email struct {
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	SentAt     string    `json:"sent_at,omitempty"`
	Sender     string    `json:"sender"`
	Recipients []string  `json:"recipients,omitempty"`
	CCList     []string  `json:"cc_list,omitempty"`
	BCCList    []string  `json:"bcc_list,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	TextVector []float32 `json:"text_vector,omitempty"`
}

// Image is the photo side-facet.
type Image struct {
	ImageID          string    `json:"image_id"`
	CaptureTimeUTC   string    `json:"capture_time_utc,omitempty"`
	CaptureTimeLocal string    `json:"capture_time_local,omitempty"`
	GPSCoords        string    `json:"gps_coords,omitempty"`
	ImageType        string    `json:"image_type,omitempty"`
	ImageVector      []float32 `json:"image_vector,omitempty"`
}

// Entities carries extracted named entities by kind.
type Entities struct {
	People        []string `json:"people,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
	Projects      []string `json:"projects,omitempty"`
	Places        []string `json:"places,omitempty"`
	Events        []string `json:"events,omitempty"`
}

// Relationship declares a typed edge between two graph nodes.
type Relationship struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
}

// Decode parses and validates a queue element.
func Decode(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Document.DocID == "" {
		return nil, fmt.Errorf("%w: missing doc_id", ErrInvalidPayload)
	}
	return &p, nil
}

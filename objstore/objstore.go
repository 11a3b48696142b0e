// Package objstore stores raw file artifacts and hands back stable URIs
// that the graph and vector rows reference.
package objstore

import (
	"context"
	"strings"
)

// Store persists a local file under a bucket-scoped key and returns the
// URI recorded alongside the document.
type Store interface {
	// Put uploads the file at path under key with the given content type.
	Put(ctx context.Context, key, path, contentType string) (uri string, err error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// ObjectKey builds the canonical key for a document artifact. Colons in
// document IDs collide with URI syntax downstream, so they are flattened.
func ObjectKey(docID, filename string) string {
	return strings.ReplaceAll(docID, ":", "_") + "/" + filename
}

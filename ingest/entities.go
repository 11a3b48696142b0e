package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EntityID derives the canonical node key for an entity: the kind plus
// the first 16 hex characters of the SHA-256 of the lowercased
// identifier. Pure function, so repeated ingests reconcile.
func EntityID(kind, identifier string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return kind + ":" + hex.EncodeToString(sum[:])[:16]
}

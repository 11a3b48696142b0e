package dedup

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

const (
	simhashKey       = "dedupe:simhash"
	phashKey         = "dedupe:phash"
	simhashThreshold = 3
	phashThreshold   = 6
)

// HashIndex is the hash surface of the KV store the engine scans.
type HashIndex interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
}

// Engine checks new fingerprints against the persisted indexes and
// registers them. Entries are keyed by the file's SHA-256, so a
// byte-identical re-ingest overwrites its own entry instead of matching
// itself. A full scan is acceptable at personal-archive scale.
type Engine struct {
	kv HashIndex
}

// NewEngine wires the engine to its KV backend.
func NewEngine(kv HashIndex) *Engine {
	return &Engine{kv: kv}
}

// CheckText registers the text fingerprint under fileSHA and returns the
// SHA-256 keys of every prior file within 3 bits. The new entry is stored
// after the scan either way, so later files compare against it too.
func (e *Engine) CheckText(ctx context.Context, fileSHA string, fp uint64) ([]string, error) {
	matches, err := e.scan(ctx, simhashKey, fileSHA, fp, simhashThreshold, 10)
	if err != nil {
		return nil, fmt.Errorf("dedup scan simhash: %w", err)
	}
	if err := e.kv.HSet(ctx, simhashKey, fileSHA, strconv.FormatUint(fp, 10)); err != nil {
		return nil, fmt.Errorf("dedup store simhash: %w", err)
	}
	return matches, nil
}

// CheckImage registers the perceptual hash under fileSHA and returns the
// SHA-256 keys of every prior image within 6 bits.
func (e *Engine) CheckImage(ctx context.Context, fileSHA string, fp uint64) ([]string, error) {
	matches, err := e.scan(ctx, phashKey, fileSHA, fp, phashThreshold, 16)
	if err != nil {
		return nil, fmt.Errorf("dedup scan phash: %w", err)
	}
	if err := e.kv.HSet(ctx, phashKey, fileSHA, strconv.FormatUint(fp, 16)); err != nil {
		return nil, fmt.Errorf("dedup store phash: %w", err)
	}
	return matches, nil
}

func (e *Engine) scan(ctx context.Context, hashKey, selfKey string, fp uint64, threshold, base int) ([]string, error) {
	stored, err := e.kv.HGetAll(ctx, hashKey)
	if err != nil {
		return nil, err
	}

	var matches []string
	for key, raw := range stored {
		if key == selfKey {
			continue
		}
		prev, err := strconv.ParseUint(raw, base, 64)
		if err != nil {
			continue
		}
		if Hamming(fp, prev) <= threshold {
			matches = append(matches, key)
		}
	}
	// Hash iteration order is random; keep edge emission deterministic.
	sort.Strings(matches)
	return matches, nil
}

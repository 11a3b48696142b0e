package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Hit is one search or traversal result.
type Hit struct {
	Kind  string         `json:"kind"`
	Key   string         `json:"key"`
	Props map[string]any `json:"props,omitempty"`
	Score float64        `json:"score"`
}

// SearchText runs a BM25 query over the document text index.
func (s *Store) SearchText(ctx context.Context, query string, limit int) ([]Hit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.kind, n.key, n.props, f.rank
		FROM documentTextFulltext f
		JOIN nodes n ON n.key = f.node_key
		WHERE documentTextFulltext MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

// SearchEntities runs a BM25 query over the entity name index.
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]Hit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.kind, n.key, n.props, f.rank
		FROM entityNameFulltext f
		JOIN nodes n ON n.key = f.node_key
		WHERE entityNameFulltext MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("entity search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

// TraverseRelated collects nodes within two hops of the seed keys,
// excluding the seeds themselves. Hop distance does not affect scoring;
// the caller assigns channel-level weights.
func (s *Store) TraverseRelated(ctx context.Context, seeds []string, limit int) ([]Hit, error) {
	if len(seeds) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(seeds)+1)
	for _, k := range seeds {
		args = append(args, k)
	}
	placeholders := strings.TrimPrefix(strings.Repeat(",?", len(seeds)), ",")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		WITH seed_ids(id) AS (
			SELECT id FROM nodes WHERE key IN (%s)
		),
		hop1(id) AS (
			SELECT CASE WHEN e.src = s.id THEN e.dst ELSE e.src END
			FROM edges e JOIN seed_ids s ON e.src = s.id OR e.dst = s.id
		),
		hop2(id) AS (
			SELECT CASE WHEN e.src = h.id THEN e.dst ELSE e.src END
			FROM edges e JOIN hop1 h ON e.src = h.id OR e.dst = h.id
		)
		SELECT DISTINCT n.kind, n.key, n.props, 0.0
		FROM nodes n
		JOIN (SELECT id FROM hop1 UNION SELECT id FROM hop2) r ON n.id = r.id
		WHERE n.id NOT IN (SELECT id FROM seed_ids)
		LIMIT ?
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("traverse: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func scanHits(rows *sql.Rows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			raw  sql.NullString
			rank float64
		)
		if err := rows.Scan(&h.Kind, &h.Key, &raw, &rank); err != nil {
			return nil, err
		}
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &h.Props); err != nil {
				return nil, fmt.Errorf("decoding props for %s: %w", h.Key, err)
			}
		}
		// FTS5 rank is negative (lower = better); negate for a positive score.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery quotes each term so user punctuation cannot break the FTS5
// query grammar.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

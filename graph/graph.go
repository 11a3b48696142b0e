// Package graph is the knowledge graph: a property graph on SQLite with
// FTS5 fulltext indexes over document text and entity names. A document
// and everything derived from it land in one transaction, so a payload
// either appears completely or not at all.
//
// The FTS5 module is compiled in only under the sqlite_fts5 build tag;
// without it Open fails with "no such module: fts5".
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Node is one vertex. Key is globally unique; Kind selects which
// fulltext index (if any) the node feeds.
type Node struct {
	Kind  string         `json:"kind"`
	Key   string         `json:"key"`
	Props map[string]any `json:"props,omitempty"`
}

// Edge links two nodes by key. Missing endpoints are created as stub
// nodes of unknown kind so link order inside a bundle does not matter.
type Edge struct {
	SrcKey string         `json:"src"`
	Rel    string         `json:"rel"`
	DstKey string         `json:"dst"`
	Props  map[string]any `json:"props,omitempty"`
}

// Bundle is the unit of atomic ingestion: every node and edge derived
// from one document payload.
type Bundle struct {
	Nodes []Node
	Edges []Edge
}

// Store wraps the SQLite database holding the graph.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the graph database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening graph db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging graph db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating graph schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IngestBundle writes every node and edge in one transaction.
func (s *Store) IngestBundle(ctx context.Context, b Bundle) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, n := range b.Nodes {
			if err := upsertNodeTx(ctx, tx, n); err != nil {
				return fmt.Errorf("node %s: %w", n.Key, err)
			}
		}
		for _, e := range b.Edges {
			if err := upsertEdgeTx(ctx, tx, e); err != nil {
				return fmt.Errorf("edge %s -%s-> %s: %w", e.SrcKey, e.Rel, e.DstKey, err)
			}
		}
		return nil
	})
}

// UpsertNode writes a single node outside a bundle. Used for side facets
// added after the core bundle committed.
func (s *Store) UpsertNode(ctx context.Context, n Node) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertNodeTx(ctx, tx, n)
	})
}

// UpsertEdge writes a single edge outside a bundle.
func (s *Store) UpsertEdge(ctx context.Context, e Edge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertEdgeTx(ctx, tx, e)
	})
}

// GetNode fetches one node by key. Returns sql.ErrNoRows when absent.
func (s *Store) GetNode(ctx context.Context, key string) (*Node, error) {
	var (
		n   Node
		raw sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, key, props FROM nodes WHERE key = ?`, key,
	).Scan(&n.Kind, &n.Key, &raw)
	if err != nil {
		return nil, err
	}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &n.Props); err != nil {
			return nil, fmt.Errorf("decoding props for %s: %w", key, err)
		}
	}
	return &n, nil
}

// NearDuplicates returns the keys linked to key by NEAR_DUPLICATE in
// either direction. Writes store a single directed edge; reads present
// the relation as symmetric.
func (s *Store) NearDuplicates(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.key
		FROM edges e
		JOIN nodes n ON n.key = ?
		JOIN nodes o ON (e.src = n.id AND e.dst = o.id) OR (e.dst = n.id AND e.src = o.id)
		WHERE e.rel = ?`, key, RelNearDuplicate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CountNodes reports how many nodes of a kind exist. Used by tests and
// the health endpoint.
func (s *Store) CountNodes(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

// CountEdges reports how many edges of a relationship type exist.
func (s *Store) CountEdges(ctx context.Context, rel string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE rel = ?`, rel).Scan(&n)
	return n, err
}

// --- write helpers ---

func upsertNodeTx(ctx context.Context, tx *sql.Tx, n Node) error {
	props := "{}"
	if n.Props != nil {
		raw, err := json.Marshal(n.Props)
		if err != nil {
			return fmt.Errorf("encoding props: %w", err)
		}
		props = string(raw)
	}

	// system_from survives re-ingestion; system_to tracks the latest
	// sighting of the node.
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (kind, key, props, system_from, system_to)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			props = excluded.props,
			system_from = COALESCE(nodes.system_from, excluded.system_from),
			system_to = excluded.system_to
	`, n.Kind, n.Key, props, now, now); err != nil {
		return err
	}
	return refreshFulltextTx(ctx, tx, n)
}

func refreshFulltextTx(ctx context.Context, tx *sql.Tx, n Node) error {
	switch {
	case textIndexedKinds[n.Kind]:
		text, _ := n.Props["text"].(string)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documentTextFulltext WHERE node_key = ?`, n.Key); err != nil {
			return err
		}
		if text == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documentTextFulltext (node_key, text) VALUES (?, ?)`, n.Key, text)
		return err
	case entityIndexedKinds[n.Kind]:
		name, _ := n.Props["name"].(string)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entityNameFulltext WHERE node_key = ?`, n.Key); err != nil {
			return err
		}
		if name == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entityNameFulltext (node_key, name) VALUES (?, ?)`, n.Key, name)
		return err
	}
	return nil
}

func upsertEdgeTx(ctx context.Context, tx *sql.Tx, e Edge) error {
	src, err := ensureNodeIDTx(ctx, tx, e.SrcKey)
	if err != nil {
		return err
	}
	dst, err := ensureNodeIDTx(ctx, tx, e.DstKey)
	if err != nil {
		return err
	}

	props := "{}"
	if e.Props != nil {
		raw, err := json.Marshal(e.Props)
		if err != nil {
			return fmt.Errorf("encoding edge props: %w", err)
		}
		props = string(raw)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges (src, rel, dst, props)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(src, rel, dst) DO UPDATE SET props = excluded.props
	`, src, e.Rel, dst, props)
	return err
}

// ensureNodeIDTx resolves a key to its row ID, creating a stub node for
// references that precede their definition.
func ensureNodeIDTx(ctx context.Context, tx *sql.Tx, key string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM nodes WHERE key = ?`, key).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (kind, key, props, system_from, system_to)
		VALUES ('', ?, '{}', ?, ?)
	`, key, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

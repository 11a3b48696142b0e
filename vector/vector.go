// Package vector is the dense index: sqlite-vec tables searched by
// cosine distance. Rows are a derived view of graph blocks and can be
// rebuilt from them, so this lives in its own database file.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Table names for the two indexed modalities.
const (
	TableDocuments = "documents"
	TableImages    = "images"
)

// Row is one indexed unit of content.
type Row struct {
	ID       string    `json:"id"` // block or page key, unique per table
	DocID    string    `json:"doc_id"`
	Text     string    `json:"text"`
	URI      string    `json:"uri"`
	MimeType string    `json:"mime_type"`
	Vector   []float32 `json:"-"`
}

// Match is a search result with its similarity score.
type Match struct {
	Row
	Score float64 `json:"score"`
}

// Index wraps the SQLite database holding the vec0 tables.
type Index struct {
	db  *sql.DB
	dim int
}

// Open opens (or creates) the vector database at path. dim must match
// the embedding model.
func Open(path string, dim int) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening vector db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector db: %w", err)
	}

	for _, table := range []string{TableDocuments, TableImages} {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s_meta (
			    rowid INTEGER PRIMARY KEY,
			    id TEXT NOT NULL UNIQUE,
			    doc_id TEXT NOT NULL,
			    text TEXT,
			    uri TEXT,
			    mime_type TEXT
			);
			CREATE VIRTUAL TABLE IF NOT EXISTS vec_%[1]s USING vec0(
			    row_ref INTEGER PRIMARY KEY,
			    embedding float[%[2]d] distance_metric=cosine
			);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_doc ON %[1]s_meta(doc_id);
		`, table, dim)
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating vector schema for %s: %w", table, err)
		}
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Index{db: db, dim: dim}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Ping verifies the database is reachable.
func (ix *Index) Ping(ctx context.Context) error {
	return ix.db.PingContext(ctx)
}

// Upsert writes rows into the named table. Repeated IDs replace the
// earlier row: the latest write wins.
func (ix *Index) Upsert(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := validTable(table); err != nil {
		return err
	}

	return ix.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if len(r.Vector) != ix.dim {
				return fmt.Errorf("row %s: vector dim %d, want %d", r.ID, len(r.Vector), ix.dim)
			}

			// Drop any prior version of this row (meta and vec share rowids).
			var old int64
			err := tx.QueryRowContext(ctx,
				fmt.Sprintf(`SELECT rowid FROM %s_meta WHERE id = ?`, table), r.ID).Scan(&old)
			if err == nil {
				if _, err := tx.ExecContext(ctx,
					fmt.Sprintf(`DELETE FROM vec_%s WHERE row_ref = ?`, table), old); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					fmt.Sprintf(`DELETE FROM %s_meta WHERE rowid = ?`, table), old); err != nil {
					return err
				}
			} else if err != sql.ErrNoRows {
				return err
			}

			res, err := tx.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s_meta (id, doc_id, text, uri, mime_type)
				VALUES (?, ?, ?, ?, ?)`, table),
				r.ID, r.DocID, r.Text, r.URI, r.MimeType)
			if err != nil {
				return err
			}
			rowid, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO vec_%s (row_ref, embedding) VALUES (?, ?)`, table),
				rowid, serializeFloat32(r.Vector)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search returns the k nearest rows to the query vector.
func (ix *Index) Search(ctx context.Context, table string, query []float32, k int) ([]Match, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query vector dim %d, want %d", len(query), ix.dim)
	}

	rows, err := ix.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, m.doc_id, m.text, m.uri, m.mime_type, v.distance
		FROM vec_%[1]s v
		JOIN %[1]s_meta m ON m.rowid = v.row_ref
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, table), serializeFloat32(query), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m        Match
			distance float64
		)
		if err := rows.Scan(&m.ID, &m.DocID, &m.Text, &m.URI, &m.MimeType, &distance); err != nil {
			return nil, err
		}
		// Cosine distance to similarity.
		m.Score = 1.0 - distance
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count reports the number of rows in the named table.
func (ix *Index) Count(ctx context.Context, table string) (int, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}
	var n int
	err := ix.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s_meta`, table)).Scan(&n)
	return n, err
}

// DeleteDoc removes every row belonging to a document.
func (ix *Index) DeleteDoc(ctx context.Context, table, docID string) error {
	if err := validTable(table); err != nil {
		return err
	}
	return ix.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM vec_%[1]s WHERE row_ref IN (
				SELECT rowid FROM %[1]s_meta WHERE doc_id = ?
			)`, table), docID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s_meta WHERE doc_id = ?`, table), docID)
		return err
	})
}

func validTable(table string) error {
	if table != TableDocuments && table != TableImages {
		return fmt.Errorf("unknown vector table: %s", table)
	}
	return nil
}

func (ix *Index) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

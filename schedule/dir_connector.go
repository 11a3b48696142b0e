package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ahasler/recall/ingest"
	"github.com/ahasler/recall/kv"
)

// ConnectorStore is the KV surface a connector needs for its cursor and
// the ingest queue. Implemented by kv.Store.
type ConnectorStore interface {
	ConnectorState(ctx context.Context, name string) (map[string]string, error)
	SetConnectorState(ctx context.Context, name, field, value string) error
	Enqueue(ctx context.Context, queue string, payload []byte) error
}

// DirConnector watches a local directory and enqueues an ingest payload
// for every file modified since the last sync. It is the reference
// connector; network sources follow the same cursor shape.
type DirConnector struct {
	name string
	root string
	kv   ConnectorStore
	log  *slog.Logger
}

// NewDirConnector builds a directory connector named name over root.
func NewDirConnector(name, root string, store ConnectorStore, log *slog.Logger) *DirConnector {
	if log == nil {
		log = slog.Default()
	}
	return &DirConnector{name: name, root: root, kv: store, log: log}
}

func (c *DirConnector) Name() string { return c.name }

// Sync walks the directory once. The cursor is the highest mtime seen,
// stored only after the walk, so a failed run replays its files.
func (c *DirConnector) Sync(ctx context.Context) error {
	state, err := c.kv.ConnectorState(ctx, c.name)
	if err != nil {
		return fmt.Errorf("connector %s: loading state: %w", c.name, err)
	}
	var since time.Time
	if raw := state["cursor"]; raw != "" {
		if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
			since = time.Unix(0, nanos)
		}
	}

	var (
		newest   = since
		enqueued int
	)
	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().After(since) {
			return nil
		}
		if err := c.enqueueFile(ctx, path); err != nil {
			return err
		}
		enqueued++
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("connector %s: %w", c.name, err)
	}

	if newest.After(since) {
		if err := c.kv.SetConnectorState(ctx, c.name, "cursor", strconv.FormatInt(newest.UnixNano(), 10)); err != nil {
			return fmt.Errorf("connector %s: storing cursor: %w", c.name, err)
		}
	}
	if enqueued > 0 {
		c.log.Info("directory sync enqueued files", "connector", c.name, "count", enqueued)
	}
	return nil
}

func (c *DirConnector) enqueueFile(ctx context.Context, path string) error {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	raw, err := json.Marshal(ingest.Payload{
		Document: ingest.Document{
			DocID:  c.name + ":" + filepath.ToSlash(rel),
			Title:  filepath.Base(path),
			Source: c.name,
		},
		Files: []ingest.File{{URI: path, MimeType: mimeType}},
	})
	if err != nil {
		return err
	}
	return c.kv.Enqueue(ctx, kv.IngestQueue, raw)
}

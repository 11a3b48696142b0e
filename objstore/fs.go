package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore keeps artifacts on the local filesystem. It backs tests and
// single-machine deployments that skip the object store service.
type FSStore struct {
	root string
}

// NewFS roots an FSStore at dir, creating it if needed.
func NewFS(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore mkdir %s: %w", dir, err)
	}
	return &FSStore{root: dir}, nil
}

// Put copies the file at path under root/key and returns a file:// URI.
func (s *FSStore) Put(ctx context.Context, key, path, contentType string) (string, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("objstore mkdir: %w", err)
	}
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("objstore open %s: %w", path, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("objstore create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("objstore copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("objstore close: %w", err)
	}
	return "file://" + dst, nil
}

// Ping checks the root directory still exists.
func (s *FSStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("objstore ping: %w", err)
	}
	return nil
}

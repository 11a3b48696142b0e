package schedule

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ahasler/recall/ingest"
	"github.com/ahasler/recall/kv"
)

func TestCadences(t *testing.T) {
	cases := map[string]time.Duration{
		"mail":    5 * time.Minute,
		"photos":  30 * time.Minute,
		"archive": 24 * time.Hour,
		"drive":   10 * time.Minute,
		"":        10 * time.Minute,
	}
	for class, want := range cases {
		if got := Cadence(class); got != want {
			t.Errorf("Cadence(%q) = %v, want %v", class, got, want)
		}
	}
}

// memStore is an in-memory ConnectorStore.
type memStore struct {
	mu     sync.Mutex
	state  map[string]map[string]string
	queues map[string][][]byte
}

func newMemStore() *memStore {
	return &memStore{
		state:  map[string]map[string]string{},
		queues: map[string][][]byte{},
	}
}

func (s *memStore) ConnectorState(ctx context.Context, name string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.state[name] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SetConnectorState(ctx context.Context, name, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state[name] == nil {
		s.state[name] = map[string]string{}
	}
	s.state[name][field] = value
	return nil
}

func (s *memStore) Enqueue(ctx context.Context, queue string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append(s.queues[queue], payload)
	return nil
}

func (s *memStore) queued() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[kv.IngestQueue]
}

func TestDirConnectorEnqueuesNewFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newMemStore()
	c := NewDirConnector("inbox", dir, store, nil)

	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	queued := store.queued()
	if len(queued) != 1 {
		t.Fatalf("queued = %d payloads, want 1", len(queued))
	}
	var pl ingest.Payload
	if err := json.Unmarshal(queued[0], &pl); err != nil {
		t.Fatal(err)
	}
	if pl.Document.DocID != "inbox:notes.md" {
		t.Fatalf("doc_id = %q", pl.Document.DocID)
	}
	if len(pl.Files) != 1 || pl.Files[0].MimeType != "text/markdown; charset=utf-8" {
		t.Fatalf("files = %+v", pl.Files)
	}
}

func TestDirConnectorCursorSkipsSeenFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newMemStore()
	c := NewDirConnector("inbox", dir, store, nil)
	ctx := context.Background()

	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(store.queued()); got != 1 {
		t.Fatalf("queued = %d after re-sync, want 1", got)
	}

	// A newer file shows up on the next sync.
	newer := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(newer, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(newer, future, future); err != nil {
		t.Fatal(err)
	}
	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(store.queued()); got != 2 {
		t.Fatalf("queued = %d after new file, want 2", got)
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := New(nil)
	done := make(chan struct{})
	var once sync.Once
	err := s.AddJob("@every 1s", "probe", func(ctx context.Context) error {
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestSchedulerDelaysOverlappingRuns(t *testing.T) {
	s := New(nil)

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	conn := connectorFunc{
		name: "slow",
		fn: func(ctx context.Context) error {
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()
			// Longer than the tick interval, so the next tick must wait.
			time.Sleep(1500 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		},
	}
	if err := s.AddConnector(conn, time.Second); err != nil {
		t.Fatal(err)
	}
	s.Start()
	time.Sleep(3500 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > 1 {
		t.Fatalf("observed %d concurrent runs, want at most 1", maxSeen)
	}
}

type connectorFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c connectorFunc) Name() string                   { return c.name }
func (c connectorFunc) Sync(ctx context.Context) error { return c.fn(ctx) }

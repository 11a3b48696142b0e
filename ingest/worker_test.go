package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahasler/recall/kv"
)

// stubQueue serves a fixed sequence of payloads and records pushes.
type stubQueue struct {
	mu     sync.Mutex
	items  [][]byte
	pushed map[string][][]byte
}

func (q *stubQueue) Dequeue(ctx context.Context, queue string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, nil
}

func (q *stubQueue) Enqueue(ctx context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushed == nil {
		q.pushed = map[string][][]byte{}
	}
	q.pushed[queue] = append(q.pushed[queue], payload)
	return nil
}

func (q *stubQueue) deadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed[kv.DeadLetterQueue]
}

type stubProcessor struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (p *stubProcessor) Process(ctx context.Context, pl *Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, pl.Document.DocID)
	return p.err
}

func runWorkerBriefly(t *testing.T, q *stubQueue, p *stubProcessor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w := NewWorker(q, p, nil)
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want deadline", err)
	}
}

func TestWorkerProcessesPayloads(t *testing.T) {
	raw, _ := json.Marshal(Payload{Document: Document{DocID: "d1"}})
	q := &stubQueue{items: [][]byte{raw}}
	p := &stubProcessor{}

	runWorkerBriefly(t, q, p)

	if len(p.seen) != 1 || p.seen[0] != "d1" {
		t.Fatalf("processed = %v", p.seen)
	}
	if len(q.deadLetters()) != 0 {
		t.Fatalf("unexpected dead letters: %d", len(q.deadLetters()))
	}
}

func TestWorkerDeadLettersUndecodable(t *testing.T) {
	bad := []byte("{not json")
	q := &stubQueue{items: [][]byte{bad}}
	p := &stubProcessor{}

	runWorkerBriefly(t, q, p)

	if len(p.seen) != 0 {
		t.Fatalf("processor called for undecodable payload: %v", p.seen)
	}
	dead := q.deadLetters()
	if len(dead) != 1 || string(dead[0]) != string(bad) {
		t.Fatalf("dead letters = %q, want original bytes", dead)
	}
}

func TestWorkerDeadLettersFailedPayload(t *testing.T) {
	raw, _ := json.Marshal(Payload{Document: Document{DocID: "d1"}})
	q := &stubQueue{items: [][]byte{raw}}
	p := &stubProcessor{err: errors.New("embedding service down")}

	runWorkerBriefly(t, q, p)

	dead := q.deadLetters()
	if len(dead) != 1 || string(dead[0]) != string(raw) {
		t.Fatalf("dead letters = %q, want original payload", dead)
	}
}

func TestWorkerSurvivesBadPayloadThenContinues(t *testing.T) {
	good, _ := json.Marshal(Payload{Document: Document{DocID: "d2"}})
	q := &stubQueue{items: [][]byte{[]byte("garbage"), good}}
	p := &stubProcessor{}

	runWorkerBriefly(t, q, p)

	if len(p.seen) != 1 || p.seen[0] != "d2" {
		t.Fatalf("processed = %v, want the payload after the bad one", p.seen)
	}
	if len(q.deadLetters()) != 1 {
		t.Fatalf("dead letters = %d", len(q.deadLetters()))
	}
}

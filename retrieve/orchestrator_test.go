package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ahasler/recall/graph"
	"github.com/ahasler/recall/infer"
	"github.com/ahasler/recall/vector"
)

type stubGraph struct {
	mu       sync.Mutex
	text     []graph.Hit
	entities []graph.Hit
	related  []graph.Hit
	calls    int
}

func (g *stubGraph) SearchText(ctx context.Context, q string, limit int) ([]graph.Hit, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.text, nil
}

func (g *stubGraph) SearchEntities(ctx context.Context, q string, limit int) ([]graph.Hit, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.entities, nil
}

func (g *stubGraph) TraverseRelated(ctx context.Context, seeds []string, limit int) ([]graph.Hit, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.related, nil
}

type stubVectors struct {
	mu      sync.Mutex
	matches []vector.Match
	calls   int
}

func (v *stubVectors) Search(ctx context.Context, table string, query []float32, k int) ([]vector.Match, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	return v.matches, nil
}

type stubEmbed struct {
	mu    sync.Mutex
	calls int
	block bool
}

func (e *stubEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// stubRerank assigns scores from a text-keyed map, default 0.5.
type stubRerank struct {
	scores map[string]float64
}

func (r *stubRerank) Rerank(ctx context.Context, query string, docs []string) ([]infer.Ranked, error) {
	ranked := make([]infer.Ranked, len(docs))
	for i, d := range docs {
		s, ok := r.scores[d]
		if !ok {
			s = 0.5
		}
		ranked[i] = infer.Ranked{Index: i, Score: s}
	}
	return ranked, nil
}

// memCache is an in-memory Cache with call counters.
type memCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	gets     int
	sets     int
	disabled bool
}

func (c *memCache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.disabled {
		return false, errors.New("kv unavailable")
	}
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (c *memCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.disabled {
		return errors.New("kv unavailable")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = raw
	return nil
}

type world struct {
	orch    *Orchestrator
	graph   *stubGraph
	vectors *stubVectors
	embed   *stubEmbed
	rerank  *stubRerank
	cache   *memCache
}

func newWorld() *world {
	w := &world{
		graph:   &stubGraph{},
		vectors: &stubVectors{},
		embed:   &stubEmbed{},
		rerank:  &stubRerank{scores: map[string]float64{}},
		cache:   &memCache{},
	}
	w.orch = NewOrchestrator(Deps{
		Graph:   w.graph,
		Vectors: w.vectors,
		Cache:   w.cache,
		Embed:   w.embed,
		Rerank:  w.rerank,
	})
	return w
}

func TestRetrieveCombinedScore(t *testing.T) {
	w := newWorld()
	w.vectors.matches = []vector.Match{{
		Row:   vector.Row{ID: "b1", DocID: "doc-1", Text: "Project Alpha kickoff"},
		Score: 0.9,
	}}
	w.graph.text = []graph.Hit{{
		Kind:  graph.KindBlock,
		Key:   "b1",
		Props: map[string]any{"doc_id": "doc-1", "text": "Project Alpha kickoff"},
		Score: 0.7,
	}}
	w.rerank.scores["Project Alpha kickoff"] = 0.95

	docs, err := w.orch.Retrieve(context.Background(), "Project Alpha details", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].DocID != "doc-1" {
		t.Fatalf("docs = %+v", docs)
	}
	want := 0.7*0.95 + 0.3*(0.9+0.7)/2 // 0.905
	if math.Abs(docs[0].Score-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", docs[0].Score, want)
	}
}

func TestRetrieveCacheHitSkipsBackends(t *testing.T) {
	w := newWorld()
	w.vectors.matches = []vector.Match{{
		Row:   vector.Row{ID: "b1", DocID: "doc-1", Text: "some text"},
		Score: 0.8,
	}}

	first, err := w.orch.Retrieve(context.Background(), "x", 5)
	if err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	vecCalls, graphCalls, embedCalls := w.vectors.calls, w.graph.calls, w.embed.calls

	second, err := w.orch.Retrieve(context.Background(), "x", 5)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}

	if w.vectors.calls != vecCalls || w.graph.calls != graphCalls || w.embed.calls != embedCalls {
		t.Fatal("cache hit touched a backend")
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("cached payload differs:\n%s\n%s", a, b)
	}
}

func TestRetrieveCacheKeyIncludesTopK(t *testing.T) {
	w := newWorld()
	w.vectors.matches = []vector.Match{
		{Row: vector.Row{ID: "b1", DocID: "d1", Text: "alpha"}, Score: 0.9},
		{Row: vector.Row{ID: "b2", DocID: "d2", Text: "beta"}, Score: 0.8},
	}

	one, err := w.orch.Retrieve(context.Background(), "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	two, err := w.orch.Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || len(two) != 2 {
		t.Fatalf("len(one)=%d len(two)=%d; top_k must be part of the cache key", len(one), len(two))
	}
}

func TestRetrieveEntityChannelFlatScore(t *testing.T) {
	w := newWorld()
	w.graph.entities = []graph.Hit{{Kind: graph.KindPerson, Key: "person:abc", Score: 2.0}}
	w.graph.related = []graph.Hit{{
		Kind:  graph.KindDocument,
		Key:   "doc-9",
		Props: map[string]any{"doc_id": "doc-9"},
	}}

	docs, err := w.orch.Retrieve(context.Background(), "who is maria", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].DocID != "doc-9" {
		t.Fatalf("docs = %+v", docs)
	}
	// No text, so no rerank component: 0.3 * 0.1.
	if math.Abs(docs[0].Score-0.03) > 1e-9 {
		t.Fatalf("score = %v, want 0.03", docs[0].Score)
	}
}

func TestRetrieveMergesChannelsByIdentity(t *testing.T) {
	w := newWorld()
	w.vectors.matches = []vector.Match{{
		Row:   vector.Row{ID: "d1::page::0#block", DocID: "d1", Text: "alpha"},
		Score: 0.9,
	}}
	// Lexical hit on a block node resolves to the same document via props.
	w.graph.text = []graph.Hit{{
		Kind:  graph.KindBlock,
		Key:   "d1::page::0#block",
		Props: map[string]any{"doc_id": "d1", "text": "alpha"},
		Score: 0.4,
	}}

	docs, err := w.orch.Retrieve(context.Background(), "alpha", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("channels did not merge: %+v", docs)
	}
}

func TestRetrieveMMRDiversifies(t *testing.T) {
	w := newWorld()
	// d1 and d2 share an identical word set; d3 shares nothing with them.
	w.vectors.matches = []vector.Match{
		{Row: vector.Row{ID: "b1", DocID: "d1", Text: "quarterly revenue report for the board"}, Score: 0.9},
		{Row: vector.Row{ID: "b2", DocID: "d2", Text: "revenue report for the quarterly board"}, Score: 0.88},
		{Row: vector.Row{ID: "b3", DocID: "d3", Text: "hiking trip photos from swiss alps"}, Score: 0.5},
	}
	w.rerank.scores["quarterly revenue report for the board"] = 0.9
	w.rerank.scores["revenue report for the quarterly board"] = 0.85
	w.rerank.scores["hiking trip photos from swiss alps"] = 0.5

	docs, err := w.orch.Retrieve(context.Background(), "revenue", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].DocID != "d1" {
		t.Fatalf("first pick = %s, want the top-scored d1", docs[0].DocID)
	}
	if docs[1].DocID != "d3" {
		t.Fatalf("second pick = %s, want the diverse d3 over the duplicate d2", docs[1].DocID)
	}
}

func TestRetrieveNoResults(t *testing.T) {
	w := newWorld()
	if _, err := w.orch.Retrieve(context.Background(), "nothing", 5); !errors.Is(err, ErrNoResults) {
		t.Fatalf("err = %v, want ErrNoResults", err)
	}
}

func TestRetrieveCancellationSkipsCacheWrite(t *testing.T) {
	w := newWorld()
	w.embed.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := w.orch.Retrieve(ctx, "q", 5); err == nil {
		t.Fatal("expected cancellation error")
	}
	if w.cache.sets != 0 {
		t.Fatalf("cache written %d times after cancellation, want 0", w.cache.sets)
	}
}

func TestRetrieveCacheOutageDegradesToUncached(t *testing.T) {
	w := newWorld()
	w.cache.disabled = true
	w.vectors.matches = []vector.Match{{
		Row:   vector.Row{ID: "b1", DocID: "d1", Text: "alpha"},
		Score: 0.9,
	}}

	for i := 0; i < 2; i++ {
		if _, err := w.orch.Retrieve(context.Background(), "q", 5); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// Both calls hit the backends.
	if w.vectors.calls != 2 {
		t.Fatalf("vector calls = %d, want 2", w.vectors.calls)
	}
}

func TestWordCosine(t *testing.T) {
	a := wordSet("alpha beta gamma")
	b := wordSet("alpha beta delta epsilon")
	got := wordCosine(a, b)
	want := 2 / (math.Sqrt(3) * math.Sqrt(4))
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("cosine = %v, want %v", got, want)
	}
	if wordCosine(a, a) < 0.999 {
		t.Fatal("self similarity should be 1")
	}
	if wordCosine(a, wordSet("")) != 0 {
		t.Fatal("empty set similarity should be 0")
	}
}

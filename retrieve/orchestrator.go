// Package retrieve is the hybrid retrieval orchestrator: cached fan-out
// over dense, lexical, and entity-expansion channels, cross-encoder
// reranking, and MMR diversification.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahasler/recall/graph"
	"github.com/ahasler/recall/infer"
	"github.com/ahasler/recall/vector"
)

// ErrNoResults reports a query no channel returned anything for.
var ErrNoResults = errors.New("retrieve: no results")

const (
	denseLimit    = 50
	lexicalLimit  = 50
	entityLimit   = 20
	traverseLimit = 50

	// entityWeight is the flat channel score a node reached through
	// entity expansion contributes to the merge.
	entityWeight = 0.1

	rerankWeight  = 0.7
	channelWeight = 0.3
)

// Document is one retrieval result.
type Document struct {
	DocID string  `json:"doc_id"`
	URI   string  `json:"uri,omitempty"`
	Text  string  `json:"text,omitempty"`
	Score float64 `json:"score"`
}

// GraphSearcher is the graph surface the orchestrator needs. Implemented
// by graph.Store.
type GraphSearcher interface {
	SearchText(ctx context.Context, query string, limit int) ([]graph.Hit, error)
	SearchEntities(ctx context.Context, query string, limit int) ([]graph.Hit, error)
	TraverseRelated(ctx context.Context, seeds []string, limit int) ([]graph.Hit, error)
}

// VectorSearcher is the nearest-neighbor surface. Implemented by
// vector.Index.
type VectorSearcher interface {
	Search(ctx context.Context, table string, query []float32, k int) ([]vector.Match, error)
}

// Cache is the result cache surface. Implemented by kv.Store.
type Cache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Embedder embeds query strings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker scores candidate texts against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]infer.Ranked, error)
}

// Deps lists the collaborators for NewOrchestrator.
type Deps struct {
	Graph    GraphSearcher
	Vectors  VectorSearcher
	Cache    Cache
	Embed    Embedder
	Rerank   Reranker
	CacheTTL time.Duration
	Log      *slog.Logger
}

// Orchestrator answers retrieval queries. Safe for concurrent use.
type Orchestrator struct {
	graph    GraphSearcher
	vectors  VectorSearcher
	cache    Cache
	embed    Embedder
	rerank   Reranker
	cacheTTL time.Duration
	log      *slog.Logger
}

// NewOrchestrator wires an orchestrator. Cache may be nil to disable
// result caching.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.CacheTTL <= 0 {
		d.CacheTTL = 24 * time.Hour
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Orchestrator{
		graph:    d.Graph,
		vectors:  d.Vectors,
		cache:    d.Cache,
		embed:    d.Embed,
		rerank:   d.Rerank,
		cacheTTL: d.CacheTTL,
		log:      d.Log,
	}
}

// candidate accumulates one merged document across channels.
type candidate struct {
	docID  string
	uri    string
	text   string
	scores []float64
}

// Retrieve runs the full pipeline for one query. The cache is written
// exactly once, after diversification; a cancelled request never
// persists partial results.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("retrieve: top_k must be positive, got %d", topK)
	}
	cacheKey := fmt.Sprintf("ask:%s:%d", query, topK)

	if o.cache != nil {
		var cached []Document
		hit, err := o.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			// KV down degrades to uncached.
			o.log.Warn("retrieval cache unavailable", "err", err)
		} else if hit {
			return cached, nil
		}
	}

	dense, lexical, entity, err := o.fanOut(ctx, query)
	if err != nil {
		return nil, err
	}

	merged := o.merge(dense, lexical, entity)
	if len(merged) == 0 {
		return nil, ErrNoResults
	}

	ranked, err := o.combine(ctx, query, merged)
	if err != nil {
		return nil, err
	}

	final := mmrSelect(ranked, topK)

	if o.cache != nil {
		if err := o.cache.SetJSON(ctx, cacheKey, final, o.cacheTTL); err != nil {
			o.log.Warn("retrieval cache store failed", "err", err)
		}
	}
	return final, nil
}

// fanOut runs the three channels concurrently. Any channel error fails
// the request and cancels the others.
func (o *Orchestrator) fanOut(ctx context.Context, query string) (dense []vector.Match, lexical, entity []graph.Hit, err error) {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	g.Go(func() error {
		vecs, err := o.embed.Embed(ctx, []string{query})
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}
		matches, err := o.vectors.Search(ctx, vector.TableDocuments, vecs[0], denseLimit)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		mu.Lock()
		dense = matches
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		hits, err := o.graph.SearchText(ctx, query, lexicalLimit)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		mu.Lock()
		lexical = hits
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		seeds, err := o.graph.SearchEntities(ctx, query, entityLimit)
		if err != nil {
			return fmt.Errorf("entity search: %w", err)
		}
		if len(seeds) == 0 {
			return nil
		}
		keys := make([]string, len(seeds))
		for i, h := range seeds {
			keys[i] = h.Key
		}
		related, err := o.graph.TraverseRelated(ctx, keys, traverseLimit)
		if err != nil {
			return fmt.Errorf("entity expansion: %w", err)
		}
		mu.Lock()
		entity = related
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return dense, lexical, entity, nil
}

// merge folds the channel results into one candidate per document
// identity, each channel appending its raw score.
func (o *Orchestrator) merge(dense []vector.Match, lexical, entity []graph.Hit) []*candidate {
	byID := map[string]*candidate{}
	var order []*candidate
	dropped := 0

	add := func(id, uri, text string, score float64) {
		if id == "" {
			dropped++
			return
		}
		c, ok := byID[id]
		if !ok {
			c = &candidate{docID: id}
			byID[id] = c
			order = append(order, c)
		}
		if c.uri == "" {
			c.uri = uri
		}
		if c.text == "" {
			c.text = text
		}
		c.scores = append(c.scores, score)
	}

	for _, m := range dense {
		id := m.DocID
		if id == "" {
			id = m.ID
		}
		add(id, m.URI, m.Text, m.Score)
	}
	for _, h := range lexical {
		add(hitIdentity(h), propString(h.Props, "uri"), propString(h.Props, "text"), h.Score)
	}
	for _, h := range entity {
		add(hitIdentity(h), propString(h.Props, "uri"), propString(h.Props, "text"), entityWeight)
	}

	if dropped > 0 {
		o.log.Debug("dropped hits without a usable identity", "count", dropped)
	}
	return order
}

// hitIdentity resolves the merge key for a graph hit: the first present
// of the known identifier props, then the node key itself.
func hitIdentity(h graph.Hit) string {
	for _, field := range []string{"doc_id", "message_id", "page_id", "block_id", "id"} {
		if v := propString(h.Props, field); v != "" {
			return v
		}
	}
	return h.Key
}

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// combine reranks candidates with text and folds the channel scores in:
// 0.7 times the rerank score plus 0.3 times the mean channel score.
// Candidates with no text keep only the channel component. Returns
// documents sorted by descending combined score.
func (o *Orchestrator) combine(ctx context.Context, query string, cands []*candidate) ([]Document, error) {
	var (
		texts   []string
		indexes []int
	)
	for i, c := range cands {
		if c.text != "" {
			texts = append(texts, c.text)
			indexes = append(indexes, i)
		}
	}

	rerankScore := make(map[int]float64, len(texts))
	if len(texts) > 0 {
		ranked, err := o.rerank.Rerank(ctx, query, texts)
		if err != nil {
			return nil, fmt.Errorf("reranking: %w", err)
		}
		for _, r := range ranked {
			rerankScore[indexes[r.Index]] = r.Score
		}
	}

	docs := make([]Document, len(cands))
	for i, c := range cands {
		docs[i] = Document{
			DocID: c.docID,
			URI:   c.uri,
			Text:  c.text,
			Score: rerankWeight*rerankScore[i] + channelWeight*mean(c.scores),
		}
	}
	// Stable so equal scores keep merge order.
	sort.SliceStable(docs, func(a, b int) bool {
		return docs[a].Score > docs[b].Score
	})
	return docs, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

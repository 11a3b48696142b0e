// Package recall wires the personal knowledge platform: queue-driven
// multimodal ingestion into a property graph plus vector index, and a
// hybrid retrieval pipeline with grounded answer synthesis on top.
package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ahasler/recall/dedup"
	"github.com/ahasler/recall/extract"
	"github.com/ahasler/recall/graph"
	"github.com/ahasler/recall/infer"
	"github.com/ahasler/recall/ingest"
	"github.com/ahasler/recall/kv"
	"github.com/ahasler/recall/objstore"
	"github.com/ahasler/recall/plan"
	"github.com/ahasler/recall/retrieve"
	"github.com/ahasler/recall/system"
	"github.com/ahasler/recall/vector"
)

// Core owns every long-lived client and service of the platform. Build
// one per process with New and share it; all components are safe for
// concurrent use.
type Core struct {
	Config Config
	Log    *slog.Logger

	Graph   *graph.Store
	Vectors *vector.Index
	KV      *kv.Store
	Objects objstore.Store

	Guard  *system.Guard
	Models *infer.Registry

	Embedder *infer.TextEmbedder
	Reranker *infer.Reranker
	Answerer *infer.Answerer

	Extractors *extract.Registry
	Processor  *ingest.Processor
	Retriever  *retrieve.Orchestrator
}

// New opens the stores and builds the service graph from cfg.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Core, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("%w: redis.addr is required", ErrInvalidConfig)
	}

	g, err := graph.Open(cfg.resolveGraphDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	vec, err := vector.Open(cfg.resolveVectorDBPath(), cfg.EmbeddingDim)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	store := kv.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	closeStores := func() {
		g.Close()
		vec.Close()
		store.Close()
	}

	objects, err := openObjects(ctx, cfg)
	if err != nil {
		closeStores()
		return nil, err
	}

	guard := system.NewGuard(cfg.MinFreeBytes, cfg.AcceleratorProbe, log)
	models := infer.NewRegistry(guard, log)

	embedProvider, err := loadProvider(ctx, models, cfg.Embedding)
	if err != nil {
		closeStores()
		return nil, err
	}
	chatProvider, err := loadProvider(ctx, models, cfg.Chat)
	if err != nil {
		closeStores()
		return nil, err
	}

	var vision infer.VisionProvider
	if cfg.Vision.Model != "" {
		p, err := loadProvider(ctx, models, cfg.Vision)
		if err != nil {
			closeStores()
			return nil, err
		}
		vision, _ = p.(infer.VisionProvider)
	}

	var transcriber *infer.Transcriber
	if cfg.Speech.Model != "" {
		transcriber = infer.NewTranscriber(cfg.Speech.inferConfig())
	}

	var imgEmbed ingest.ImageEmbedder
	if cfg.ImageEmbedding.BaseURL != "" {
		imgEmbed = infer.NewImageEmbedder(cfg.ImageEmbedding.inferConfig())
	}

	embedder := infer.NewTextEmbedder(embedProvider, guard, log)
	reranker := infer.NewReranker(
		infer.NewRerankClient(infer.Config{BaseURL: cfg.Rerank.BaseURL, APIKey: cfg.Rerank.APIKey}),
		cfg.Rerank.Model, cfg.Rerank.FallbackModel, log)
	answerer := infer.NewAnswerer(chatProvider, cfg.Chat.Model)

	extractors := extract.DefaultRegistry(vision, cfg.Vision.Model, transcriber, log)

	processor := ingest.NewProcessor(ingest.ProcessorDeps{
		Graph:    g,
		Vectors:  vec,
		Objects:  objects,
		Extract:  extractors,
		Embed:    embedder,
		ImgEmbed: imgEmbed,
		Dedup:    dedup.NewEngine(store),
		Log:      log,
	})

	retriever := retrieve.NewOrchestrator(retrieve.Deps{
		Graph:    g,
		Vectors:  vec,
		Cache:    store,
		Embed:    embedder,
		Rerank:   reranker,
		CacheTTL: time.Duration(cfg.CacheTTLSecs) * time.Second,
		Log:      log,
	})

	return &Core{
		Config:     cfg,
		Log:        log,
		Graph:      g,
		Vectors:    vec,
		KV:         store,
		Objects:    objects,
		Guard:      guard,
		Models:     models,
		Embedder:   embedder,
		Reranker:   reranker,
		Answerer:   answerer,
		Extractors: extractors,
		Processor:  processor,
		Retriever:  retriever,
	}, nil
}

// Close releases the stores. Safe to call once after New succeeded.
func (c *Core) Close() error {
	var first error
	for _, closeFn := range []func() error{c.Graph.Close, c.Vectors.Close, c.KV.Close} {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Answer is the response to one question.
type Answer struct {
	Answer    string              `json:"answer"`
	Citations []string            `json:"citations"`
	Documents []retrieve.Document `json:"documents,omitempty"`
	Plan      plan.Plan           `json:"plan"`
}

const citationLen = 200

// Ask plans the query, retrieves supporting documents, and synthesizes
// a grounded answer. topK <= 0 uses the configured default.
func (c *Core) Ask(ctx context.Context, query string, topK int) (*Answer, error) {
	if topK <= 0 {
		topK = c.Config.TopK
	}

	p := plan.Classify(query, time.Now())
	c.Log.Debug("query planned", "intent", p.Intent, "entities", p.Entities, "filters", p.Filters)

	docs, err := c.Retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	passages := make([]string, 0, len(docs))
	citations := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Text == "" {
			continue
		}
		passages = append(passages, d.Text)
		citations = append(citations, truncate(d.Text, citationLen))
	}

	text, err := c.Answerer.Answer(ctx, query, passages)
	if err != nil {
		return nil, err
	}
	return &Answer{Answer: text, Citations: citations, Documents: docs, Plan: p}, nil
}

// EnqueueDocument validates a payload and pushes it onto the ingest
// queue for the workers.
func (c *Core) EnqueueDocument(ctx context.Context, pl *ingest.Payload) error {
	if pl == nil || pl.Document.DocID == "" {
		return fmt.Errorf("%w: missing doc_id", ingest.ErrInvalidPayload)
	}
	raw, err := json.Marshal(pl)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return c.KV.Enqueue(ctx, kv.IngestQueue, raw)
}

// Health pings every backing store. The returned map has one entry per
// store; a nil value means healthy.
func (c *Core) Health(ctx context.Context) map[string]error {
	return map[string]error{
		"graph":   c.Graph.Ping(ctx),
		"vectors": c.Vectors.Ping(ctx),
		"kv":      c.KV.Ping(ctx),
		"objects": c.Objects.Ping(ctx),
	}
}

func openObjects(ctx context.Context, cfg Config) (objstore.Store, error) {
	if cfg.Objects.Endpoint != "" {
		s, err := objstore.NewS3(ctx, objstore.S3Options{
			Endpoint:  cfg.Objects.Endpoint,
			Region:    cfg.Objects.Region,
			Bucket:    cfg.Objects.Bucket,
			AccessKey: cfg.Objects.AccessKey,
			SecretKey: cfg.Objects.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("opening object store: %w", err)
		}
		return s, nil
	}
	dir := cfg.Objects.LocalDir
	if dir == "" {
		dir = filepath.Join(cfg.resolveStorageDir(), "objects")
	}
	s, err := objstore.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("opening object store: %w", err)
	}
	return s, nil
}

// loadProvider builds the HTTP client for a model endpoint through the
// registry, so concurrent startups share one handle per model and loads
// wait out memory pressure.
func loadProvider(ctx context.Context, models *infer.Registry, m ModelConfig) (infer.Provider, error) {
	h, err := models.GetOrLoad(ctx, m.Model, func(ctx context.Context) (any, error) {
		return infer.NewProvider(m.inferConfig())
	})
	if err != nil {
		return nil, err
	}
	return h.(infer.Provider), nil
}

func (m ModelConfig) inferConfig() infer.Config {
	return infer.Config{
		Provider: m.Provider,
		Model:    m.Model,
		BaseURL:  m.BaseURL,
		APIKey:   m.APIKey,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

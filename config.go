package recall

import (
	"os"
	"path/filepath"
)

// Config holds all configuration for the recall core.
type Config struct {
	// GraphDBPath is the path to the SQLite database backing the knowledge
	// graph. If empty, defaults to <StorageDir>/graph.db.
	GraphDBPath string `json:"graph_db_path" yaml:"graph_db_path"`

	// VectorDBPath is the path to the SQLite database backing the vector
	// index. Kept separate from the graph so vector rows remain a derived
	// view that can be rebuilt from blocks. Defaults to <StorageDir>/vectors.db.
	VectorDBPath string `json:"vector_db_path" yaml:"vector_db_path"`

	// StorageDir is the base directory for local state (databases, download
	// cache). Defaults to ~/.recall.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// EmbeddingDim must match the text embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Redis is the address of the Redis/Valkey instance used for the ingest
	// queue, dedup indices, connector state, and the retrieval cache.
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Objects configures the object store for raw file artifacts.
	Objects ObjectStoreConfig `json:"objects" yaml:"objects"`

	// Inference endpoints.
	Embedding      ModelConfig  `json:"embedding" yaml:"embedding"`
	ImageEmbedding ModelConfig  `json:"image_embedding" yaml:"image_embedding"`
	Rerank         RerankConfig `json:"rerank" yaml:"rerank"`
	Chat           ModelConfig  `json:"chat" yaml:"chat"`
	Vision         ModelConfig  `json:"vision" yaml:"vision"`
	Speech         ModelConfig  `json:"speech" yaml:"speech"`

	// MinFreeBytes is the memory-pressure threshold for the memory guard.
	// Default 1.5 GiB.
	MinFreeBytes uint64 `json:"min_free_bytes" yaml:"min_free_bytes"`

	// AcceleratorProbe is an optional command (argv) that prints the free
	// accelerator memory in bytes on stdout. Empty disables the probe.
	AcceleratorProbe []string `json:"accelerator_probe" yaml:"accelerator_probe"`

	// Retrieval tuning.
	TopK         int `json:"top_k" yaml:"top_k"`
	CacheTTLSecs int `json:"cache_ttl_secs" yaml:"cache_ttl_secs"`

	// WorkerConcurrency is the number of ingest queue consumers.
	WorkerConcurrency int `json:"worker_concurrency" yaml:"worker_concurrency"`

	// BackupCommand is run by the nightly backup job (argv). Empty disables it.
	BackupCommand []string `json:"backup_command" yaml:"backup_command"`
}

// RedisConfig configures the KV / queue client.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// ObjectStoreConfig configures the artifact store. When Endpoint is empty
// the store falls back to a local filesystem directory (LocalDir).
type ObjectStoreConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Region    string `json:"region" yaml:"region"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	LocalDir  string `json:"local_dir" yaml:"local_dir"`
}

// ModelConfig configures a single inference endpoint.
type ModelConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, tei, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// RerankConfig configures the cross-encoder reranker with its fallback model.
type RerankConfig struct {
	Model         string `json:"model" yaml:"model"`
	FallbackModel string `json:"fallback_model" yaml:"fallback_model"`
	BaseURL       string `json:"base_url" yaml:"base_url"`
	APIKey        string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim: 1024,
		Redis:        RedisConfig{Addr: "localhost:6379"},
		Objects: ObjectStoreConfig{
			Endpoint:  "http://localhost:9000",
			Region:    "us-east-1",
			Bucket:    "recall-artifacts",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
		},
		Embedding: ModelConfig{
			Provider: "ollama",
			Model:    "bge-m3",
			BaseURL:  "http://localhost:11434",
		},
		ImageEmbedding: ModelConfig{
			Provider: "custom",
			Model:    "siglip-base-patch16-384",
			BaseURL:  "http://localhost:8500",
		},
		Rerank: RerankConfig{
			Model:         "bge-reranker-v2-m3",
			FallbackModel: "ms-marco-minilm-l6-v2",
			BaseURL:       "http://localhost:8501",
		},
		Chat: ModelConfig{
			Provider: "ollama",
			Model:    "qwen2.5:7b-instruct-q4_K_M",
			BaseURL:  "http://localhost:11434",
		},
		Vision: ModelConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		Speech: ModelConfig{
			Provider: "openai",
			Model:    "whisper-large-v3-turbo",
			BaseURL:  "http://localhost:8502",
		},
		MinFreeBytes:      1610612736, // 1.5 GiB
		TopK:              12,
		CacheTTLSecs:      86400,
		WorkerConcurrency: 1,
	}
}

// resolveStorageDir computes the base directory for local state.
func (c *Config) resolveStorageDir() string {
	if c.StorageDir != "" {
		return c.StorageDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall")
}

// resolveGraphDBPath computes the graph database path.
func (c *Config) resolveGraphDBPath() string {
	if c.GraphDBPath != "" {
		return c.GraphDBPath
	}
	return filepath.Join(c.resolveStorageDir(), "graph.db")
}

// resolveVectorDBPath computes the vector database path.
func (c *Config) resolveVectorDBPath() string {
	if c.VectorDBPath != "" {
		return c.VectorDBPath
	}
	return filepath.Join(c.resolveStorageDir(), "vectors.db")
}

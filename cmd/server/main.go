// Command server exposes the HTTP API: POST /ask, POST /ingest,
// GET /health, and GET /metrics.
//
// The graph store needs SQLite FTS5 virtual tables, so build with the
// sqlite_fts5 tag:
//
//	go build -tags sqlite_fts5 ./cmd/server
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/ahasler/recall"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := loadConfig(*configPath)

	apiKey := os.Getenv("RECALL_API_KEY")
	corsOrigins := os.Getenv("RECALL_CORS_ORIGINS")
	rps := 10.0
	if v := os.Getenv("RECALL_RATE_LIMIT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}

	core, err := recall.New(context.Background(), cfg, slog.Default())
	if err != nil {
		slog.Error("creating core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	h := newHandler(core)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ask", h.handleAsk)
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Middleware chain: recovery -> cors -> auth -> rate limit -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = rateLimitMiddleware(newRateLimiter(rps), handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest uploads can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// loadConfig layers the YAML config file (if given) over the defaults,
// then applies environment overrides.
func loadConfig(path string) recall.Config {
	cfg := recall.DefaultConfig()

	if path == "" {
		path = os.Getenv("RECALL_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Error("reading config", "path", path, "error", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			slog.Error("parsing config", "path", path, "error", err)
			os.Exit(1)
		}
	}

	// Override from environment variables.
	if v := os.Getenv("RECALL_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("RECALL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RECALL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RECALL_S3_ENDPOINT"); v != "" {
		cfg.Objects.Endpoint = v
	}
	if v := os.Getenv("RECALL_S3_ACCESS_KEY"); v != "" {
		cfg.Objects.AccessKey = v
	}
	if v := os.Getenv("RECALL_S3_SECRET_KEY"); v != "" {
		cfg.Objects.SecretKey = v
	}
	if v := os.Getenv("RECALL_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("RECALL_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("RECALL_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("RECALL_RERANK_BASE_URL"); v != "" {
		cfg.Rerank.BaseURL = v
	}
	return cfg
}

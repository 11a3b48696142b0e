// Command worker drains the ingest queue and runs the periodic
// connector syncs plus the nightly backup.
//
// The graph store needs SQLite FTS5 virtual tables, so build with the
// sqlite_fts5 tag:
//
//	go build -tags sqlite_fts5 ./cmd/worker
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/ahasler/recall"
	"github.com/ahasler/recall/ingest"
	"github.com/ahasler/recall/schedule"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	watchDir := flag.String("watch", "", "Local directory to sync into the ingest queue")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := loadConfig(*configPath)

	core, err := recall.New(context.Background(), cfg, slog.Default())
	if err != nil {
		slog.Error("creating core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ingest queue consumers.
	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w := ingest.NewWorker(core.KV, core.Processor, slog.Default().With("worker", n))
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("worker stopped", "worker", n, "error", err)
			}
		}(i)
	}

	// Periodic connector syncs and the nightly backup.
	sched := schedule.New(slog.Default())

	if dir := watchDirOrEnv(*watchDir); dir != "" {
		conn := schedule.NewDirConnector("local", dir, core.KV, slog.Default())
		if err := sched.AddConnector(conn, schedule.DefaultCadence); err != nil {
			slog.Error("scheduling connector", "error", err)
			os.Exit(1)
		}
		slog.Info("watching directory", "dir", dir, "every", schedule.DefaultCadence)
	}

	if len(cfg.BackupCommand) > 0 {
		cmd := cfg.BackupCommand
		err := sched.AddJob(schedule.BackupSpec, "backup", func(ctx context.Context) error {
			out, err := exec.CommandContext(ctx, cmd[0], cmd[1:]...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("backup command: %w: %s", err, out)
			}
			slog.Info("backup finished")
			return nil
		})
		if err != nil {
			slog.Error("scheduling backup", "error", err)
			os.Exit(1)
		}
	}

	sched.Start()
	slog.Info("worker started", "concurrency", concurrency)

	<-ctx.Done()
	slog.Info("shutting down worker...")
	sched.Stop()
	wg.Wait()
	slog.Info("worker stopped")
}

func watchDirOrEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("RECALL_WATCH_DIR")
}

// loadConfig layers the YAML config file (if given) over the defaults,
// then applies environment overrides. Kept in sync with cmd/server.
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
	return cfg
}

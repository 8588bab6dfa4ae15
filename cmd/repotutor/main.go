package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/docs"
	"github.com/repolab/repotutor/internal/fetcher"
	"github.com/repolab/repotutor/internal/indexer"
	"github.com/repolab/repotutor/internal/ingest"
	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/lifecycle"
	"github.com/repolab/repotutor/internal/llm"
	"github.com/repolab/repotutor/internal/mcp"
	"github.com/repolab/repotutor/internal/metrics"
	"github.com/repolab/repotutor/internal/search"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/tutor"
	"github.com/repolab/repotutor/internal/vectorindex"
	"github.com/repolab/repotutor/internal/worker"
	"github.com/repolab/repotutor/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("RepoTutor MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	// stdout is reserved for the MCP protocol
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	// Optional .env for provider keys and overrides
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("REPOTUTOR_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	log.Info("starting", "version", version,
		"build_mode", storage.BuildMode, "driver", storage.DriverName,
		"data_dir", cfg.DataDir)

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	indexStore, err := vectorindex.NewStore(cfg.IndexesDir())
	if err != nil {
		return fmt.Errorf("failed to open index store: %w", err)
	}

	embedder, err := llm.NewEmbedder(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	completer, err := llm.NewCompleter(cfg.Completion)
	if err != nil {
		return fmt.Errorf("failed to create completer: %w", err)
	}
	log.Info("providers ready",
		"embedding", embedder.Provider()+"/"+embedder.Model(),
		"completion", completer.Provider()+"/"+completer.Model())

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	lc := lifecycle.New(store, log)
	jobSvc := jobs.New(store, log)
	f := fetcher.New(cfg.ReposDir(), log)

	ingestSvc := ingest.New(store, lc, jobSvc, f, indexStore, &cfg, log)
	indexerSvc := indexer.New(store, lc, jobSvc, f, indexStore, embedder, m, &cfg, log)
	searchSvc := search.New(store, lc, indexStore, embedder, log)
	tutorSvc := tutor.New(store, lc, searchSvc, completer, &cfg, log)
	docsSvc := docs.New(store, lc, jobSvc, indexStore, completer, &cfg, log)

	pool := worker.New(jobSvc, map[types.JobType]worker.Executor{
		types.JobIngest: ingestSvc,
		types.JobIndex:  indexerSvc,
		types.JobDocs:   docsSvc,
	}, m, cfg.WorkerPollInterval(), cfg.WorkerConcurrency, log)

	server := mcp.NewServer(mcp.Deps{
		Storage:    store,
		Ingest:     ingestSvc,
		Indexer:    indexerSvc,
		Search:     searchSvc,
		Tutor:      tutorSvc,
		Docs:       docsSvc,
		Jobs:       jobSvc,
		Fetcher:    f,
		IndexStore: indexStore,
		Metrics:    m,
		Config:     &cfg,
		Log:        log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Expired tutor sessions are reaped in the background; reads enforce
	// the TTL regardless, this just reclaims rows.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := store.DeleteExpiredSessions(ctx, cfg.SessionTTL()); err != nil {
					log.Warn("session reap failed", "error", err)
				} else if n > 0 {
					log.Info("reaped expired sessions", "count", n)
				}
			}
		}
	}()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		if err := pool.Run(ctx); err != nil {
			log.Error("worker pool error", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("MCP server ready, listening on stdio")
		serveErr <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		cancel()
		<-poolDone
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		log.Info("stopped")
		return nil
	}

	// Drain in-flight jobs before exit
	<-poolDone
	log.Info("stopped")
	return nil
}

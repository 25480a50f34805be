// Package app wires configuration, storage, the ingestion worker and the
// HTTP server into a running service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/sync/errgroup"

	"github.com/tomibot/ragserver/api"
	"github.com/tomibot/ragserver/db"
	"github.com/tomibot/ragserver/internal/blobstore"
	"github.com/tomibot/ragserver/internal/chatmemory"
	"github.com/tomibot/ragserver/internal/chunker"
	"github.com/tomibot/ragserver/internal/config"
	"github.com/tomibot/ragserver/internal/embedding"
	"github.com/tomibot/ragserver/internal/ingest"
	"github.com/tomibot/ragserver/internal/llm"
	"github.com/tomibot/ragserver/internal/log"
	"github.com/tomibot/ragserver/internal/promptstore"
	"github.com/tomibot/ragserver/internal/query"
	"github.com/tomibot/ragserver/internal/vectorindex"
)

// Run loads configuration, connects to storage, and serves until ctx is
// cancelled. The ingestion worker drains its queue before Run returns.
func Run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.OpenAIAPIKey == "" {
		return config.ErrMissingAPIKey
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	logger.Info("starting ragserver", "addr", cfg.HTTPAddr)

	// Schema provisioning is best effort: a replica racing another
	// instance for the same migration should still come up.
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		logger.Warn("database migration failed, continuing", "error", err)
	}

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	blobs, err := blobstore.NewMinio(ctx, blobstore.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to object store: %w", err)
	}

	embedder := embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:            cfg.OpenAIAPIKey,
		BaseURL:           cfg.OpenAIBaseURL,
		Model:             cfg.EmbeddingModel,
		BatchSize:         cfg.BatchSize,
		RequestsPerSecond: cfg.EmbedRequestsPerSecond,
	}, logger)
	responder := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.ChatModel,
	}, logger)

	index := vectorindex.NewPostgres(pool, logger)
	store := promptstore.New(pool, logger)
	memory := chatmemory.New(cfg.HistoryLimit)
	chunks := chunker.New(chunker.Config{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		PreserveTables: cfg.PreserveTables,
	}, logger)

	pipeline := ingest.NewPipeline(blobs, chunks, embedder, index, store, ingest.Config{
		BatchSize:       cfg.BatchSize,
		PreviewChars:    cfg.PreviewChars,
		IncludeFullText: cfg.IncludeFullText,
	}, logger)
	worker := ingest.NewWorker(pipeline, cfg.IngestQueueSize, cfg.IngestWorkers, logger)

	queries := query.NewService(embedder, index, store, memory, responder, query.Config{
		TopK:      cfg.TopK,
		PromptTTL: time.Duration(cfg.PromptTTLSeconds) * time.Second,
	}, logger)

	server := api.NewServer(
		api.NewDocumentHandler(blobs, worker, cfg.UploadMaxBytes, cfg.UploadToken, logger),
		api.NewQueryHandler(queries, logger),
		api.NewHealthHandler(pool, logger),
		logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return server.Run(ctx, cfg.HTTPAddr) })
	return g.Wait()
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing database configuration: %w", err)
	}
	// Register the vector type on every connection so []float32 vectors
	// scan transparently.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	return pool, nil
}

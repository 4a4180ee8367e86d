package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spoolhq/content-service/internal/cache"
	"github.com/spoolhq/content-service/internal/clients/docai"
	"github.com/spoolhq/content-service/internal/clients/openai"
	"github.com/spoolhq/content-service/internal/clients/pinecone"
	"github.com/spoolhq/content-service/internal/config"
	"github.com/spoolhq/content-service/internal/db"
	"github.com/spoolhq/content-service/internal/graph"
	"github.com/spoolhq/content-service/internal/handlers"
	"github.com/spoolhq/content-service/internal/ingest/chunk"
	"github.com/spoolhq/content-service/internal/ingest/embed"
	"github.com/spoolhq/content-service/internal/ingest/extract"
	"github.com/spoolhq/content-service/internal/ingest/relate"
	"github.com/spoolhq/content-service/internal/jobs"
	"github.com/spoolhq/content-service/internal/observability"
	"github.com/spoolhq/content-service/internal/persist"
	"github.com/spoolhq/content-service/internal/platform/envutil"
	"github.com/spoolhq/content-service/internal/platform/gcp"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/platform/neo4jdb"
	"github.com/spoolhq/content-service/internal/repos"
	"github.com/spoolhq/content-service/internal/server"
	"github.com/spoolhq/content-service/internal/services"
	"github.com/spoolhq/content-service/internal/vector"
)

func main() {
	_ = godotenv.Load()

	logMode := envutil.Str("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     envutil.Str("SERVICE_VERSION", "dev"),
	})

	// Postgres: the durable run table.
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Neo4j: the knowledge graph.
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("neo4j init failed", "error", err)
	}
	defer neoClient.Close(context.Background())

	// External clients.
	pineconeClient, err := pinecone.NewFromEnv(log)
	if err != nil {
		log.Fatal("pinecone init failed", "error", err)
	}
	openaiClient, err := openai.NewFromEnv(log, cfg.EmbedModel, cfg.EmbedDimension)
	if err != nil {
		log.Fatal("openai init failed", "error", err)
	}
	docaiClient, err := docai.New(log)
	if err != nil {
		log.Fatal("document ai init failed", "error", err)
	}
	defer docaiClient.Close()

	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Fatal("bucket init failed", "error", err)
	}

	embedCache := cache.NewRedisFromEnv(log)

	// Stores and pipeline components.
	graphStore := graph.NewStore(neoClient, log)
	graphStore.EnsureSchema(ctx)

	vectorStore := vector.NewStore(pineconeClient,
		envutil.Str("PINECONE_INDEX_NAME", "textbook-content"),
		envutil.Str("PINECONE_NAMESPACE", ""),
		log)

	extractor := extract.New(log, services.NewDocAITextSource(docaiClient), cfg.MaxPDFSizeBytes())
	batcher := embed.NewBatcher(openaiClient, embedCache, embed.Config{
		Model:       cfg.EmbedModel,
		Dimension:   cfg.EmbedDimension,
		BatchSize:   cfg.EmbedBatchSize,
		MaxAttempts: cfg.EmbedMaxAttempts,
		BaseDelay:   cfg.EmbedBaseDelay,
		MaxInFlight: cfg.EmbedMaxInFlight,
		CallTimeout: cfg.EmbedCallTimeout,
	}, log)
	inferencer := relate.New(relate.Config{
		PrereqMinOverlap: cfg.PrereqMinOverlap,
		RelatedThreshold: cfg.RelatedThreshold,
	}, log)
	coordinator := persist.NewCoordinator(graphStore, vectorStore, batcher, persist.Config{
		MaxRetries: cfg.PersistMaxRetries,
		BaseDelay:  cfg.PersistBaseDelay,
	}, log)

	// Repos.
	runRepo := repos.NewIngestionRunRepo(thePG, log)

	// Orchestrator workers.
	orchestrator := jobs.NewOrchestrator(runRepo, bucketService, extractor, batcher, inferencer, coordinator, jobs.Config{
		Workers:      cfg.MaxConcurrentJobs,
		MaxAttempts:  cfg.JobMaxAttempts,
		RetryDelay:   cfg.JobRetryDelay,
		StaleRunning: cfg.JobStaleRunning,
		StageTimeout: cfg.EmbedStageTimeout,
		Chunk: chunk.Config{
			Size:        cfg.ChunkSize,
			Overlap:     cfg.ChunkOverlap,
			MinChars:    cfg.MinChunkChars,
			MaxConcepts: cfg.MaxConcepts,
		},
	}, log)
	go orchestrator.Run(ctx)

	// Services and handlers.
	ingestionService := services.NewIngestionService(runRepo, bucketService, cfg.MaxPDFSizeBytes(), log)
	searchService := services.NewSearchService(openaiClient, vectorStore, log)
	libraryService := services.NewLibraryService(graphStore, vectorStore, coordinator, log)

	router := server.NewRouter(server.RouterConfig{
		ServiceName:      cfg.ServiceName,
		Log:              log,
		IngestionHandler: handlers.NewIngestionHandler(ingestionService),
		SearchHandler:    handlers.NewSearchHandler(searchService),
		LibraryHandler:   handlers.NewLibraryHandler(libraryService),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"neo4j":    graphStore,
			"pinecone": vectorStore,
		}),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server exited", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
	if shutdownOtel != nil {
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}
}

package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lodestone-ai/lodestone/internal/cache"
	"github.com/lodestone-ai/lodestone/internal/config"
	"github.com/lodestone-ai/lodestone/internal/database"
	"github.com/lodestone-ai/lodestone/internal/openai"
	"github.com/lodestone-ai/lodestone/internal/parser"
	"github.com/lodestone-ai/lodestone/internal/queue"
	"github.com/lodestone-ai/lodestone/internal/repository"
	"github.com/lodestone-ai/lodestone/internal/service"
	"github.com/lodestone-ai/lodestone/internal/storage"
	openaiapi "github.com/sashabaranov/go-openai"
)

// App holds the wired components shared by the serve, worker, and reindex
// commands.
type App struct {
	Cfg   *config.Config
	Pool  *pgxpool.Pool
	Queue queue.Queue
	Blobs service.BlobStore

	DocRepo   *repository.DocumentRepository
	ChunkRepo *repository.ChunkRepository

	Ingest  *service.IngestionService
	Docs    *service.DocumentService
	Answers *service.AnswerService
}

type appOptions struct {
	// embeddingVersion overrides the configured embedding version. Used by
	// reindex to cut documents over to a new version.
	embeddingVersion string
	// queue overrides the configured queue backend. Used by reindex to drain
	// its own in-process queue instead of publishing to the shared one.
	queue queue.Queue
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*App, error) {
	if !cfg.HasOpenAI() {
		return nil, fmt.Errorf("LODESTONE_OPENAI_API_KEY is required")
	}

	pool, err := database.NewPoolFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("connected to database")

	var blobs service.BlobStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		blobs = s3Client
	} else {
		log.Println("S3 not configured, using in-memory blob store (blobs do not survive restarts)")
		blobs = storage.NewMemoryStore()
	}

	q := opts.queue
	if q == nil {
		if cfg.HasRedis() {
			rq, err := queue.NewRedisQueue(cfg.RedisURL)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			q = rq
			log.Println("connected to redis queue")
		} else {
			log.Println("redis not configured, using in-process queue")
			q = queue.NewMemoryQueue(1024)
		}
	}

	version := cfg.EmbeddingVersion
	if opts.embeddingVersion != "" {
		version = opts.embeddingVersion
	}

	providerClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingModel:      openaiapi.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		ChatModel:           cfg.ChatModel,
	})

	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)

	chunker := service.NewChunker(service.ChunkConfig{
		TargetTokens:  cfg.ChunkTargetTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
		Tolerance:     cfg.ChunkTolerance,
	})

	embedder := service.NewEmbedder(providerClient, service.EmbedConfig{
		Version:     version,
		BatchSize:   cfg.EmbedBatchSize,
		MaxAttempts: cfg.EmbedMaxAttempts,
		Concurrency: cfg.EmbedConcurrency,
	})

	retrieveCfg := service.DefaultRetrieveConfig(version)
	retrieveCfg.TopK = cfg.RetrieveTopK
	retrieveCfg.Lambda = cfg.MMRLambda
	retrieveCfg.Hybrid = cfg.HybridSearch

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	retriever := service.NewRetriever(chunkRepo, providerClient, retrieveCfg).
		WithCaches(cache.New(cfg.CacheSize, cacheTTL), cache.New(cfg.CacheSize, cacheTTL))

	assembleCfg := service.DefaultAssembleConfig()
	assembleCfg.TokenBudget = cfg.ContextTokenBudget
	assembler := service.NewAssembler(assembleCfg)

	ingest := service.NewIngestionService(docRepo, chunkRepo, blobs, parser.NewRegistry(), chunker, embedder, q)
	docs := service.NewDocumentService(docRepo, chunkRepo, blobs)
	answers := service.NewAnswerService(retriever, assembler, providerClient)

	return &App{
		Cfg:       cfg,
		Pool:      pool,
		Queue:     q,
		Blobs:     blobs,
		DocRepo:   docRepo,
		ChunkRepo: chunkRepo,
		Ingest:    ingest,
		Docs:      docs,
		Answers:   answers,
	}, nil
}

// Close releases the app's connections.
func (a *App) Close() {
	a.Pool.Close()
}

package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"lodestone-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingVersion    string `envconfig:"EMBEDDING_VERSION" default:"v1"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	ChunkTargetTokens  int `envconfig:"CHUNK_TARGET_TOKENS" default:"1000"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"200"`
	ChunkTolerance     int `envconfig:"CHUNK_TOLERANCE" default:"120"`

	EmbedBatchSize   int `envconfig:"EMBED_BATCH_SIZE" default:"96"`
	EmbedMaxAttempts int `envconfig:"EMBED_MAX_ATTEMPTS" default:"3"`
	EmbedConcurrency int `envconfig:"EMBED_CONCURRENCY" default:"4"`

	WorkerCount int `envconfig:"WORKER_COUNT" default:"4"`

	RetrieveTopK       int     `envconfig:"RETRIEVE_TOP_K" default:"5"`
	MMRLambda          float64 `envconfig:"MMR_LAMBDA" default:"0.65"`
	HybridSearch       bool    `envconfig:"HYBRID_SEARCH" default:"true"`
	ContextTokenBudget int     `envconfig:"CONTEXT_TOKEN_BUDGET" default:"3000"`

	CacheTTLSeconds int `envconfig:"CACHE_TTL_SECONDS" default:"60"`
	CacheSize       int `envconfig:"CACHE_SIZE" default:"512"`

	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LODESTONE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

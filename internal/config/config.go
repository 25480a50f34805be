// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (RAG_ prefix, runtime override)
//  2. Config file (config.yaml in the working directory or --config path)
//  3. Default values
//
// Main configuration categories:
//   - HTTP: listen address
//   - Storage: PostgreSQL connection (see storage.go) and MinIO object store
//   - OpenAI: API key, base URL, embedding and chat models
//   - Chunking/Ingestion/Query: pipeline tuning knobs
//
// Sensitive data (passwords, API keys) are never logged.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the OpenAI API key is missing.
	ErrMissingAPIKey = errors.New("missing OpenAI API key")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidBatchSize indicates the ingestion batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid ingestion batch size")

	// ErrInvalidTopK indicates the query top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrMissingBucket indicates the MinIO bucket name is not set.
	ErrMissingBucket = errors.New("missing MinIO bucket name")
)

// Defaults mirrored from the reference pipeline configuration.
const (
	DefaultChunkSize              = 1000
	DefaultChunkOverlap           = 120
	DefaultBatchSize              = 128
	DefaultPreviewChars           = 800
	DefaultTopK                   = 5
	DefaultHistoryLimit           = 20
	DefaultPromptTTLSeconds       = 60
	DefaultUploadMaxBytes         = 20 * 1024 * 1024
	DefaultIngestQueueSize        = 64
	DefaultIngestWorkers          = 2
	DefaultEmbeddingModel         = "text-embedding-3-large"
	DefaultChatModel              = "gpt-4.1-mini"
	DefaultEmbedRequestsPerSecond = 8
)

// Config stores application configuration.
type Config struct {
	// HTTP server
	HTTPAddr string `mapstructure:"http_addr"`

	// Logging
	LogLevel string `mapstructure:"log_level"` // "debug", "info", "warn", "error"
	LogJSON  bool   `mapstructure:"log_json"`

	// Storage configuration (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// MinIO object storage
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"` // SENSITIVE
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`

	// OpenAI provider
	OpenAIAPIKey           string  `mapstructure:"openai_api_key"` // SENSITIVE
	OpenAIBaseURL          string  `mapstructure:"openai_base_url"`
	EmbeddingModel         string  `mapstructure:"embedding_model"`
	ChatModel              string  `mapstructure:"chat_model"`
	EmbedRequestsPerSecond float64 `mapstructure:"embed_requests_per_second"` // <= 0 disables throttling

	// Chunking
	ChunkSize      int  `mapstructure:"chunk_size"`
	ChunkOverlap   int  `mapstructure:"chunk_overlap"`
	PreserveTables bool `mapstructure:"preserve_tables"`

	// Ingestion
	UploadToken     string `mapstructure:"upload_token"` // SENSITIVE, empty disables the check
	BatchSize       int    `mapstructure:"batch_size"`
	PreviewChars    int    `mapstructure:"payload_preview_chars"`
	IncludeFullText bool   `mapstructure:"include_full_text_in_payload"`
	IngestQueueSize int    `mapstructure:"ingest_queue_size"`
	IngestWorkers   int    `mapstructure:"ingest_workers"`
	UploadMaxBytes  int64  `mapstructure:"upload_max_bytes"`

	// Query
	TopK             int `mapstructure:"top_k"`
	HistoryLimit     int `mapstructure:"history_limit"`
	PromptTTLSeconds int `mapstructure:"prompt_ttl_seconds"`
}

// Load reads configuration from defaults, an optional config file and the
// environment. configFile may be empty, in which case only config.yaml in
// the working directory is considered (and may be absent).
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// A missing default config file is fine; env and defaults apply.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "postgres")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "agents")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_bucket", "docs")
	v.SetDefault("minio_use_ssl", false)

	v.SetDefault("openai_base_url", "")
	v.SetDefault("embedding_model", DefaultEmbeddingModel)
	v.SetDefault("chat_model", DefaultChatModel)
	v.SetDefault("embed_requests_per_second", DefaultEmbedRequestsPerSecond)

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("preserve_tables", true)

	v.SetDefault("upload_token", "")
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("payload_preview_chars", DefaultPreviewChars)
	v.SetDefault("include_full_text_in_payload", false)
	v.SetDefault("ingest_queue_size", DefaultIngestQueueSize)
	v.SetDefault("ingest_workers", DefaultIngestWorkers)
	v.SetDefault("upload_max_bytes", DefaultUploadMaxBytes)

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("history_limit", DefaultHistoryLimit)
	v.SetDefault("prompt_ttl_seconds", DefaultPromptTTLSeconds)
}

// Validate checks the configuration for internal consistency. It does not
// verify connectivity; network errors surface on first use.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.MinioBucket == "" {
		return ErrMissingBucket
	}
	if c.ChunkSize < 1 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, c.ChunkSize, c.ChunkOverlap)
	}
	if c.BatchSize < 1 || c.BatchSize > 10000 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, c.TopK)
	}
	return nil
}

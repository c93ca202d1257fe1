package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

// Sink kinds.
const (
	SinkIndexer = "indexer"
	SinkDirect  = "direct"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel    string `yaml:"logLevel"`
	MetricsAddr string `yaml:"metricsAddr"`

	SourceDir      string `yaml:"sourceDir"`
	SourcePrefix   string `yaml:"sourcePrefix"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	ArtifactPath   string `yaml:"artifactPath"`
	ArtifactKey    string `yaml:"artifactKey"`
	CheckpointPath string `yaml:"checkpointPath"`

	ChunkSize         int `yaml:"chunkSize"`
	ChunkOverlap      int `yaml:"chunkOverlap"`
	BatchSize         int `yaml:"batchSize"`
	MaxRetries        int `yaml:"maxRetries"`
	MaxBackoffSeconds int `yaml:"maxBackoffSeconds"`
	BatchPauseMs      int `yaml:"batchPauseMs"`

	Sink               string `yaml:"sink"`
	IndexerURL         string `yaml:"indexerURL"`
	ServiceTokenSecret string `yaml:"serviceTokenSecret"`
	UpsertTimeoutSec   int    `yaml:"upsertTimeoutSeconds"`

	DatabaseURL          string `yaml:"databaseURL"`
	EmbeddingProvider    string `yaml:"embeddingProvider"`
	EmbeddingBaseURL     string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey      string `yaml:"embeddingAPIKey"`
	EmbeddingModel       string `yaml:"embeddingModel"`
	EmbeddingDim         int    `yaml:"embeddingDim"`
	EmbeddingConcurrency int    `yaml:"embeddingConcurrency"`
}

// ConfigPath returns INGEST_CONFIG or config.yaml.
func ConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("INGEST_CONFIG")); v != "" {
		return v
	}
	return defaultConfigPath
}

// Load reads config from path. A missing file at the default path is not
// an error so the builder can run from env and flags alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == defaultConfigPath:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PDF_ROOT"); v != "" {
		cfg.SourceDir = v
	}
	if v := os.Getenv("RULES_JSON"); v != "" {
		cfg.ArtifactPath = v
	}
	if v := os.Getenv("UPSERT_CHECKPOINT"); v != "" {
		cfg.CheckpointPath = v
	}
	if v := os.Getenv("INDEXER_URL"); v != "" {
		cfg.IndexerURL = v
	}
	if v := os.Getenv("GOTOVO_SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.EmbeddingAPIKey == "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("GOTOVO_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("INGEST_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("INGEST_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkOverlap = n
		}
	}
	if v := os.Getenv("UPSERT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UpsertTimeoutSec = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = "data_out/rules_batch.json"
	}
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = "data_out/upsert_checkpoint.json"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 900
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 120
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 256
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MaxBackoffSeconds == 0 {
		cfg.MaxBackoffSeconds = 30
	}
	if cfg.BatchPauseMs == 0 {
		cfg.BatchPauseMs = 250
	}
	if cfg.UpsertTimeoutSec == 0 {
		cfg.UpsertTimeoutSec = 1200
	}
	if cfg.Sink == "" {
		cfg.Sink = SinkIndexer
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
}

// Validate checks settings for a run. Sink settings are only required when
// the run commits batches.
func (cfg FileConfig) Validate(dryRun bool) error {
	if cfg.SourceDir == "" && cfg.MinioEndpoint == "" {
		return errors.New("config: sourceDir or minioEndpoint is required (set in config.yaml, PDF_ROOT or MINIO_ENDPOINT)")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required with minioEndpoint (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be > 0 (set in config.yaml or INGEST_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be >= 0 and smaller than chunkSize")
	}
	if cfg.BatchSize < 0 || cfg.MaxRetries < 0 || cfg.MaxBackoffSeconds < 0 || cfg.BatchPauseMs < 0 {
		return errors.New("config: batch settings must be >= 0")
	}
	if dryRun {
		return nil
	}
	switch cfg.Sink {
	case SinkIndexer:
		if cfg.IndexerURL == "" {
			return errors.New("config: indexerURL is required (set in config.yaml or INDEXER_URL)")
		}
		if len(strings.TrimSpace(cfg.ServiceTokenSecret)) < 32 {
			return errors.New("config: serviceTokenSecret of at least 32 bytes is required (set in config.yaml or GOTOVO_SERVICE_TOKEN_SECRET)")
		}
	case SinkDirect:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the direct sink (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown sink %q (want %s or %s)", cfg.Sink, SinkIndexer, SinkDirect)
	}
	return nil
}

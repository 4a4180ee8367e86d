package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spoolhq/content-service/internal/platform/envutil"
)

// Config is the processing configuration for the ingestion pipeline.
// Values come from an optional YAML file (CONFIG_FILE) overridden by
// environment variables; every field has a usable default.
type Config struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	Port        int    `yaml:"port"`

	MaxPDFSizeMB int `yaml:"max_pdf_size_mb"`

	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	MaxConcepts   int `yaml:"max_concepts"`
	MinChunkChars int `yaml:"min_chunk_chars"`

	EmbedModel        string        `yaml:"embed_model"`
	EmbedDimension    int           `yaml:"embed_dimension"`
	EmbedBatchSize    int           `yaml:"embed_batch_size"`
	EmbedMaxAttempts  int           `yaml:"embed_max_attempts"`
	EmbedBaseDelay    time.Duration `yaml:"embed_base_delay"`
	EmbedMaxInFlight  int           `yaml:"embed_max_in_flight"`
	EmbedCallTimeout  time.Duration `yaml:"embed_call_timeout"`
	EmbedStageTimeout time.Duration `yaml:"embed_stage_timeout"`

	PrereqMinOverlap float64 `yaml:"prereq_min_overlap"`
	RelatedThreshold float64 `yaml:"related_threshold"`

	PersistMaxRetries int           `yaml:"persist_max_retries"`
	PersistBaseDelay  time.Duration `yaml:"persist_base_delay"`

	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	JobMaxAttempts    int           `yaml:"job_max_attempts"`
	JobRetryDelay     time.Duration `yaml:"job_retry_delay"`
	JobStaleRunning   time.Duration `yaml:"job_stale_running"`
}

func defaults() Config {
	return Config{
		ServiceName: "content-service",
		Environment: "development",
		Port:        8002,

		MaxPDFSizeMB: 100,

		ChunkSize:     1000,
		ChunkOverlap:  200,
		MaxConcepts:   5000,
		MinChunkChars: 50,

		EmbedModel:        "text-embedding-3-small",
		EmbedDimension:    1536,
		EmbedBatchSize:    100,
		EmbedMaxAttempts:  3,
		EmbedBaseDelay:    time.Second,
		EmbedMaxInFlight:  4,
		EmbedCallTimeout:  30 * time.Second,
		EmbedStageTimeout: 10 * time.Minute,

		PrereqMinOverlap: 0.5,
		RelatedThreshold: 0.82,

		PersistMaxRetries: 3,
		PersistBaseDelay:  2 * time.Second,

		MaxConcurrentJobs: 5,
		JobMaxAttempts:    3,
		JobRetryDelay:     30 * time.Second,
		JobStaleRunning:   2 * time.Minute,
	}
}

// Load builds the configuration: defaults, then the YAML file if present,
// then env overrides.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ServiceName = envutil.Str("SERVICE_NAME", cfg.ServiceName)
	cfg.Environment = envutil.Str("ENVIRONMENT", cfg.Environment)
	cfg.Port = envutil.Int("SERVICE_PORT", cfg.Port)

	cfg.MaxPDFSizeMB = envutil.Int("MAX_PDF_SIZE_MB", cfg.MaxPDFSizeMB)

	cfg.ChunkSize = envutil.Int("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = envutil.Int("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.MaxConcepts = envutil.Int("MAX_CONCEPTS_PER_JOB", cfg.MaxConcepts)
	cfg.MinChunkChars = envutil.Int("MIN_CHUNK_CHARS", cfg.MinChunkChars)

	cfg.EmbedModel = envutil.Str("EMBEDDING_MODEL", cfg.EmbedModel)
	cfg.EmbedDimension = envutil.Int("EMBEDDING_DIMENSION", cfg.EmbedDimension)
	cfg.EmbedBatchSize = envutil.Int("EMBEDDING_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.EmbedMaxAttempts = envutil.Int("EMBEDDING_MAX_ATTEMPTS", cfg.EmbedMaxAttempts)
	cfg.EmbedBaseDelay = envutil.Duration("EMBEDDING_BASE_DELAY", cfg.EmbedBaseDelay)
	cfg.EmbedMaxInFlight = envutil.Int("EMBEDDING_MAX_IN_FLIGHT", cfg.EmbedMaxInFlight)
	cfg.EmbedCallTimeout = envutil.Duration("EMBEDDING_CALL_TIMEOUT", cfg.EmbedCallTimeout)
	cfg.EmbedStageTimeout = envutil.Duration("EMBEDDING_STAGE_TIMEOUT", cfg.EmbedStageTimeout)

	cfg.PrereqMinOverlap = envutil.Float("PREREQ_MIN_OVERLAP", cfg.PrereqMinOverlap)
	cfg.RelatedThreshold = envutil.Float("RELATED_SIM_THRESHOLD", cfg.RelatedThreshold)

	cfg.PersistMaxRetries = envutil.Int("PERSIST_MAX_RETRIES", cfg.PersistMaxRetries)
	cfg.PersistBaseDelay = envutil.Duration("PERSIST_BASE_DELAY", cfg.PersistBaseDelay)

	cfg.MaxConcurrentJobs = envutil.Int("MAX_CONCURRENT_JOBS", cfg.MaxConcurrentJobs)
	cfg.JobMaxAttempts = envutil.Int("JOB_MAX_ATTEMPTS", cfg.JobMaxAttempts)
	cfg.JobRetryDelay = envutil.Duration("JOB_RETRY_DELAY", cfg.JobRetryDelay)
	cfg.JobStaleRunning = envutil.Duration("JOB_STALE_RUNNING", cfg.JobStaleRunning)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("config: chunk overlap %d must be < chunk size %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("config: max concurrent jobs must be positive")
	}
	return nil
}

func (c Config) MaxPDFSizeBytes() int64 {
	return int64(c.MaxPDFSizeMB) * 1024 * 1024
}

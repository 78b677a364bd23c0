// Package config defines all configuration structures for the
// RxMarket-Intelligence platform. No I/O or parsing logic lives here, only
// plain data types and validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds tunables for the operational HTTP server (health probes
// and the metrics endpoint).
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds Redis connection parameters for the result cache.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka producer/consumer parameters.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	TimeoutMS       int      `mapstructure:"timeout_ms"`
	ProducerRetries int      `mapstructure:"producer_retries"`
	BatchSize       int      `mapstructure:"batch_size"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
}

// OpenSearchConfig holds evidence-index cluster connection parameters.
type OpenSearchConfig struct {
	Addresses          []string `mapstructure:"addresses"`
	User               string   `mapstructure:"user"`
	Password           string   `mapstructure:"password"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	BulkBatchSize      int      `mapstructure:"bulk_batch_size"`
	IndexPrefix        string   `mapstructure:"index_prefix"`
}

// Neo4jConfig holds knowledge-graph connection parameters.
type Neo4jConfig struct {
	URI                   string        `mapstructure:"uri"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout"`
	Database              string        `mapstructure:"database"`
}

// MilvusConfig holds vector-store connection parameters for claim similarity.
type MilvusConfig struct {
	Addr             string `mapstructure:"addr"`
	DBName           string `mapstructure:"db_name"`
	EmbeddingDim     int    `mapstructure:"embedding_dim"`
	IndexType        string `mapstructure:"index_type"`
	DefaultTopK      int    `mapstructure:"default_top_k"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

// MinIOConfig holds object-storage parameters for the document archive.
type MinIOConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// EngineConfig holds the research engine's quality and retry tunables. These
// are fixed for the lifetime of a run; per-request context can only narrow
// them, never widen.
type EngineConfig struct {
	QualityThreshold float64       `mapstructure:"quality_threshold"` // 0-1
	MaxRetryAttempts int           `mapstructure:"max_retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MinSourceCount   int           `mapstructure:"min_source_count"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// GenerationConfig holds model-serving backend parameters.
type GenerationConfig struct {
	BackendAddr    string        `mapstructure:"backend_addr"`
	Model          string        `mapstructure:"model"`
	ScoringModel   string        `mapstructure:"scoring_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRecvBytes   int           `mapstructure:"max_recv_bytes"`
}

// WorkerConfig holds background-worker execution parameters.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Namespace            string `mapstructure:"namespace"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure for the platform. Every
// infrastructure component and application service reads its settings from
// the relevant sub-struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Milvus     MilvusConfig     `mapstructure:"milvus"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Generation GenerationConfig `mapstructure:"generation"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers must treat any error as
// fatal and refuse to start.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Database
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("config: database.max_conns must be >= 1, got %d", c.Database.MaxConns)
	}

	// Redis
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}

	// Kafka
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("config: kafka.group_id is required")
	}

	// Engine
	if c.Engine.QualityThreshold <= 0 || c.Engine.QualityThreshold > 1 {
		return fmt.Errorf("config: engine.quality_threshold %.2f is out of range (0, 1]", c.Engine.QualityThreshold)
	}
	if c.Engine.MaxRetryAttempts < 0 {
		return fmt.Errorf("config: engine.max_retry_attempts must be >= 0, got %d", c.Engine.MaxRetryAttempts)
	}
	if c.Engine.RetryDelay < 0 {
		return fmt.Errorf("config: engine.retry_delay must be >= 0, got %s", c.Engine.RetryDelay)
	}
	if c.Engine.MinSourceCount < 1 {
		return fmt.Errorf("config: engine.min_source_count must be >= 1, got %d", c.Engine.MinSourceCount)
	}
	if c.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("config: engine.request_timeout must be > 0, got %s", c.Engine.RequestTimeout)
	}

	// Generation
	if c.Generation.BackendAddr == "" {
		return fmt.Errorf("config: generation.backend_addr is required")
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("config: generation.model is required")
	}

	// Milvus
	if c.Milvus.Addr == "" {
		return fmt.Errorf("config: milvus.addr is required")
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

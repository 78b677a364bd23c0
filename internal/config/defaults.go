package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "rxmi"
	DefaultDBMaxConns = 25

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "rxmi:"
	DefaultRedisTTL       = time.Hour

	DefaultKafkaBroker     = "localhost:9092"
	DefaultKafkaGroupID    = "rxmi-research-workers"
	DefaultDeadLetterTopic = "dead_letter.research"

	DefaultOpenSearchIndexPrefix = "rxmi"

	DefaultMilvusAddr             = "localhost:19530"
	DefaultMilvusCollectionPrefix = "rxmi"
	DefaultMilvusEmbeddingDim     = 768

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "rxmi-research-archive"

	DefaultQualityThreshold = 0.85
	DefaultMaxRetryAttempts = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultMinSourceCount   = 3
	DefaultRequestTimeout   = 5 * time.Minute

	DefaultGenerationBackendAddr = "localhost:8001"
	DefaultGenerationModel       = "research-gpt-4"
	DefaultEmbeddingModel        = "research-embed-v1"
	DefaultGenerationTimeout     = 60 * time.Second

	DefaultWorkerConcurrency = 4

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the platform
// default. Fields already set by the caller are left unchanged so explicit
// configuration always wins. It must run after unmarshalling and before
// Validate so optional-but-defaulted fields are never seen as missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// Server
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	// Redis
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = DefaultRedisTTL
	}

	// Kafka
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = DefaultDeadLetterTopic
	}

	// OpenSearch
	if cfg.OpenSearch.IndexPrefix == "" {
		cfg.OpenSearch.IndexPrefix = DefaultOpenSearchIndexPrefix
	}
	if cfg.OpenSearch.BulkBatchSize == 0 {
		cfg.OpenSearch.BulkBatchSize = 500
	}

	// Milvus
	if cfg.Milvus.Addr == "" {
		cfg.Milvus.Addr = DefaultMilvusAddr
	}
	if cfg.Milvus.CollectionPrefix == "" {
		cfg.Milvus.CollectionPrefix = DefaultMilvusCollectionPrefix
	}
	if cfg.Milvus.EmbeddingDim == 0 {
		cfg.Milvus.EmbeddingDim = DefaultMilvusEmbeddingDim
	}
	if cfg.Milvus.DefaultTopK == 0 {
		cfg.Milvus.DefaultTopK = 10
	}

	// MinIO
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = 24 * time.Hour
	}

	// Engine
	if cfg.Engine.QualityThreshold == 0 {
		cfg.Engine.QualityThreshold = DefaultQualityThreshold
	}
	if cfg.Engine.MaxRetryAttempts == 0 {
		cfg.Engine.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.Engine.RetryDelay == 0 {
		cfg.Engine.RetryDelay = DefaultRetryDelay
	}
	if cfg.Engine.MinSourceCount == 0 {
		cfg.Engine.MinSourceCount = DefaultMinSourceCount
	}
	if cfg.Engine.RequestTimeout == 0 {
		cfg.Engine.RequestTimeout = DefaultRequestTimeout
	}

	// Generation
	if cfg.Generation.BackendAddr == "" {
		cfg.Generation.BackendAddr = DefaultGenerationBackendAddr
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = DefaultGenerationModel
	}
	if cfg.Generation.ScoringModel == "" {
		cfg.Generation.ScoringModel = cfg.Generation.Model
	}
	if cfg.Generation.EmbeddingModel == "" {
		cfg.Generation.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = DefaultGenerationTimeout
	}

	// Worker
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.HeartbeatInterval == 0 {
		cfg.Worker.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Worker.DrainTimeout == 0 {
		cfg.Worker.DrainTimeout = 30 * time.Second
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stdout"}
	}

	// Metrics
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "rxmi"
	}
}

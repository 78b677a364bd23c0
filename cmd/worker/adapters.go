package main

import (
	"context"
	"fmt"
	"strings"

	appresearch "github.com/turtacn/RxMarket-Intelligence/internal/application/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	neo4jdriver "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/neo4j"
	neo4jrepos "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/postgres"
	pgrepos "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	prom "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/search/milvus"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/deep_verify"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/quality_gate"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/research_gpt"
	opshttp "github.com/turtacn/RxMarket-Intelligence/internal/interfaces/http"
	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
)

// workerDeps holds every connection the worker owns, so shutdown can
// release them in one place.
type workerDeps struct {
	service appresearch.Service
	locks   redis.LockFactory

	backend common.ModelBackend
	pg      *postgres.Pool
	redis   *redis.Client
	neo4j   *neo4jdriver.Driver
	minio   *minio.Client
	os      *opensearch.Client
	milvus  *milvus.Client

	producer *kafka.Producer
}

// buildDependencies connects every backend the worker needs and assembles
// the research service on top of them. Any connection failure is fatal: a
// worker that cannot reach its dependencies must not join the consumer
// group.
func buildDependencies(ctx context.Context, cfg *config.Config, metrics *prom.AppMetrics, logger logging.Logger) (*workerDeps, error) {
	d := &workerDeps{}
	ok := false
	defer func() {
		if !ok {
			d.Close(logger)
		}
	}()

	backend, err := common.NewGRPCBackend(common.BackendConfig{
		Addr:         cfg.Generation.BackendAddr,
		Timeout:      cfg.Generation.Timeout,
		MaxRecvBytes: cfg.Generation.MaxRecvBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("model backend: %w", err)
	}
	d.backend = backend

	pg, err := postgres.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	d.pg = pg

	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	d.redis = redisClient
	d.locks = redis.NewLockFactory(redisClient, logger)

	neoDriver, err := neo4jdriver.NewDriver(cfg.Neo4j, logger)
	if err != nil {
		return nil, fmt.Errorf("neo4j: %w", err)
	}
	d.neo4j = neoDriver

	minioClient, err := minio.NewClient(cfg.MinIO, logger)
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	d.minio = minioClient

	osClient, err := opensearch.NewClient(cfg.OpenSearch, logger)
	if err != nil {
		return nil, fmt.Errorf("opensearch: %w", err)
	}
	d.os = osClient

	milvusClient, err := milvus.NewClient(cfg.Milvus, logger)
	if err != nil {
		return nil, fmt.Errorf("milvus: %w", err)
	}
	d.milvus = milvusClient

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Acks:       "all",
		MaxRetries: cfg.Kafka.ProducerRetries,
		BatchSize:  cfg.Kafka.BatchSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	d.producer = producer

	// Intelligence layer.
	generator, err := research_gpt.NewGenerator(backend, research_gpt.Config{Model: cfg.Generation.Model}, logger)
	if err != nil {
		return nil, err
	}
	scorer, err := quality_gate.NewScorer(backend, cfg.Generation.ScoringModel, logger)
	if err != nil {
		return nil, err
	}
	assessor, err := quality_gate.NewAssessor(scorer, logger)
	if err != nil {
		return nil, err
	}
	researcher, err := deep_verify.NewModelResearcher(backend, cfg.Generation.Model, logger)
	if err != nil {
		return nil, err
	}
	population, err := deep_verify.NewModelPopulationSource(backend, cfg.Generation.ScoringModel, logger)
	if err != nil {
		return nil, err
	}

	// Cross-reference voters: keyword evidence, exact-match deal graph,
	// paraphrase-tolerant claim vectors.
	indexer := opensearch.NewIndexer(osClient, opensearch.IndexerConfig{BulkBatchSize: cfg.OpenSearch.BulkBatchSize}, logger)
	searcher := opensearch.NewSearcher(osClient, opensearch.SearcherConfig{}, logger)
	evidenceIndexer, err := opensearch.NewEvidenceIndexer(indexer, cfg.OpenSearch.IndexPrefix, logger)
	if err != nil {
		return nil, err
	}
	if err := evidenceIndexer.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("evidence index: %w", err)
	}
	evidenceSearcher, err := opensearch.NewEvidenceSearcher(searcher, cfg.OpenSearch.IndexPrefix, logger)
	if err != nil {
		return nil, err
	}
	graphRepo, err := neo4jrepos.NewDealGraphRepo(neoDriver, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := common.NewTextEmbedder(backend, cfg.Generation.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	claimStore, err := milvus.NewClaimStore(milvusClient, embedder, cfg.Milvus, logger)
	if err != nil {
		return nil, err
	}
	if err := claimStore.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("milvus collection: %w", err)
	}

	verifier, err := deep_verify.NewVerifier(deep_verify.Config{Model: cfg.Generation.ScoringModel}, deep_verify.Deps{
		Backend:    backend,
		Researcher: researcher,
		CrossRefs:  []deep_verify.CrossReferencer{evidenceSearcher, graphRepo, claimStore},
		Population: population,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	orch, err := appresearch.NewOrchestrator(appresearch.Config{
		MaxRetryAttempts: cfg.Engine.MaxRetryAttempts,
		RetryDelay:       cfg.Engine.RetryDelay,
		QualityThreshold: cfg.Engine.QualityThreshold,
		MinSourceCount:   cfg.Engine.MinSourceCount,
	}, appresearch.Deps{
		Generator: generator,
		Assessor:  assessor,
		Verifier:  verifier,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	archive, err := minio.NewResultArchive(minioClient, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := kafka.NewEventPublisher(producer, metrics, logger, kafka.WithSource("worker"))
	if err != nil {
		return nil, err
	}

	svc, err := appresearch.NewService(appresearch.ServiceConfig{Origin: "worker"}, appresearch.ServiceDeps{
		Orchestrator: orch,
		Cache:        redis.NewResultCache(redisClient, logger, redis.WithTTL(cfg.Redis.DefaultTTL), redis.WithKeyPrefix(cfg.Redis.KeyPrefix)),
		Audit:        pgrepos.NewRunRepository(pg.Pool(), logger),
		Events:       publisher,
		Archive:      archive,
		Index: &resultRecorders{
			evidence: evidenceIndexer,
			graph:    graphRepo,
			claims:   claimStore,
		},
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	d.service = svc

	ok = true
	return d, nil
}

// Probes lists readiness checks for the ops server, one per backend.
func (d *workerDeps) Probes() []opshttp.Probe {
	return []opshttp.Probe{
		{Name: "postgres", Check: d.pg.HealthCheck},
		{Name: "redis", Check: d.redis.Ping},
		{Name: "neo4j", Check: d.neo4j.HealthCheck},
		{Name: "minio", Check: d.minio.HealthCheck},
		{Name: "opensearch", Check: d.os.Ping},
		{Name: "milvus", Check: d.milvus.CheckHealth},
		{Name: "model_backend", Check: d.backend.Healthy},
	}
}

// Close releases every connection. Safe on a partially built set.
func (d *workerDeps) Close(logger logging.Logger) {
	closers := []struct {
		name  string
		close func() error
	}{
		{"kafka producer", func() error {
			if d.producer == nil {
				return nil
			}
			return d.producer.Close()
		}},
		{"milvus", func() error {
			if d.milvus == nil {
				return nil
			}
			return d.milvus.Close()
		}},
		{"opensearch", func() error {
			if d.os == nil {
				return nil
			}
			return d.os.Close()
		}},
		{"neo4j", func() error {
			if d.neo4j == nil {
				return nil
			}
			return d.neo4j.Close()
		}},
		{"redis", func() error {
			if d.redis == nil {
				return nil
			}
			return d.redis.Close()
		}},
		{"postgres", func() error {
			if d.pg == nil {
				return nil
			}
			d.pg.Close()
			return nil
		}},
		{"model backend", func() error {
			if d.backend == nil {
				return nil
			}
			return d.backend.Close()
		}},
	}
	for _, c := range closers {
		if err := c.close(); err != nil {
			logger.Warn("shutdown: "+c.name+" close failed", logging.Err(err))
		}
	}
}

// resultRecorders fans an accepted result out to every store the deep
// validator later cross-references: the evidence index, the deal graph,
// and the claim vector store.
type resultRecorders struct {
	evidence *opensearch.EvidenceIndexer
	graph    *neo4jrepos.DealGraphRepo
	claims   *milvus.ClaimStore
}

func (r *resultRecorders) IndexResult(ctx context.Context, rc domainResearch.ResearchContext, res *domainResearch.EngineResult) error {
	var failed []string
	if err := r.evidence.IndexResult(ctx, rc, res); err != nil {
		failed = append(failed, fmt.Sprintf("evidence index: %v", err))
	}
	if err := r.graph.RecordResult(ctx, rc, res); err != nil {
		failed = append(failed, fmt.Sprintf("deal graph: %v", err))
	}
	if err := r.claims.RecordResult(ctx, rc, res); err != nil {
		failed = append(failed, fmt.Sprintf("claim store: %v", err))
	}
	if len(failed) > 0 {
		return fmt.Errorf("result recording incomplete: %s", strings.Join(failed, "; "))
	}
	return nil
}

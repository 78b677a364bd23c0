// rxmi is the command-line client: it runs research requests in process
// through the same engine the worker uses, and manages the audit schema.
package main

import (
	"context"
	"fmt"
	"os"

	appresearch "github.com/turtacn/RxMarket-Intelligence/internal/application/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/postgres"
	pgrepos "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/deep_verify"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/quality_gate"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/research_gpt"
	"github.com/turtacn/RxMarket-Intelligence/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	if err := cli.Execute(cli.CommandDependencies{NewService: newResearchService}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newResearchService builds an in-process research service for one CLI run:
// the model backend, the audit store, and the result cache. The event bus,
// the document archive, and the cross-reference stores belong to the worker
// pipeline and stay unwired here; runs from the CLI are still audited,
// cached, and quality gated identically.
func newResearchService(ctx context.Context, cfg *config.Config, log logging.Logger) (appresearch.Service, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	ok := false
	defer func() {
		if !ok {
			cleanup()
		}
	}()

	backend, err := common.NewGRPCBackend(common.BackendConfig{
		Addr:         cfg.Generation.BackendAddr,
		Timeout:      cfg.Generation.Timeout,
		MaxRecvBytes: cfg.Generation.MaxRecvBytes,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("model backend: %w", err)
	}
	closers = append(closers, func() { _ = backend.Close() })

	pg, err := postgres.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	redisClient, err := redis.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	generator, err := research_gpt.NewGenerator(backend, research_gpt.Config{Model: cfg.Generation.Model}, log)
	if err != nil {
		return nil, nil, err
	}
	scorer, err := quality_gate.NewScorer(backend, cfg.Generation.ScoringModel, log)
	if err != nil {
		return nil, nil, err
	}
	assessor, err := quality_gate.NewAssessor(scorer, log)
	if err != nil {
		return nil, nil, err
	}
	researcher, err := deep_verify.NewModelResearcher(backend, cfg.Generation.Model, log)
	if err != nil {
		return nil, nil, err
	}
	population, err := deep_verify.NewModelPopulationSource(backend, cfg.Generation.ScoringModel, log)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := deep_verify.NewVerifier(deep_verify.Config{Model: cfg.Generation.ScoringModel}, deep_verify.Deps{
		Backend:    backend,
		Researcher: researcher,
		Population: population,
		Logger:     log,
	})
	if err != nil {
		return nil, nil, err
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
		Logger:    log,
	})
	if err != nil {
		return nil, nil, err
	}

	svc, err := appresearch.NewService(appresearch.ServiceConfig{Origin: "cli"}, appresearch.ServiceDeps{
		Orchestrator: orch,
		Cache:        redis.NewResultCache(redisClient, log, redis.WithTTL(cfg.Redis.DefaultTTL), redis.WithKeyPrefix(cfg.Redis.KeyPrefix)),
		Audit:        pgrepos.NewRunRepository(pg.Pool(), log),
		Logger:       log,
	})
	if err != nil {
		return nil, nil, err
	}

	ok = true
	return svc, cleanup, nil
}

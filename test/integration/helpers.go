// Shared infrastructure for integration tests: container lifecycle,
// schema bootstrap, a scripted model backend, and reply builders. All
// integration tests depend on this file.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	redisdb "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
)

// EnvIntegrationEnabled gates the suite; container-backed tests are too
// heavy for the default test run.
const EnvIntegrationEnabled = "RXMI_INTEGRATION_TESTS"

// SkipIfNoIntegration skips the calling test when the integration flag is
// unset.
func SkipIfNoIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvIntegrationEnabled) == "" {
		t.Skipf("skipping integration test: set %s=1 to enable", EnvIntegrationEnabled)
	}
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// startPostgres launches a disposable PostgreSQL container, applies the run
// audit schema, and returns a pool tied to the test lifetime.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rxmi_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/rxmi_test?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applyRunSchema(t, pool)
	return pool
}

// applyRunSchema mirrors migrations/000001 and 000002.
func applyRunSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	ddl := `
	CREATE TABLE IF NOT EXISTS research_runs (
		id               UUID PRIMARY KEY,
		correlation_id   TEXT NOT NULL UNIQUE,
		fingerprint      TEXT NOT NULL,
		target           TEXT NOT NULL,
		indication       TEXT NOT NULL,
		therapeutic_area TEXT NOT NULL DEFAULT '',
		region           TEXT NOT NULL DEFAULT '',
		phase            TEXT NOT NULL DEFAULT '',
		full_depth       BOOLEAN NOT NULL DEFAULT FALSE,
		outcome          TEXT NOT NULL,
		overall_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
		retry_count      INTEGER NOT NULL DEFAULT 0,
		source_count     INTEGER NOT NULL DEFAULT 0,
		below_threshold  BOOLEAN NOT NULL DEFAULT FALSE,
		elapsed_ms       BIGINT NOT NULL DEFAULT 0,
		document         JSONB NOT NULL DEFAULT '{}'::jsonb,
		assessment       JSONB NOT NULL DEFAULT '{}'::jsonb,
		deals            JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS research_attempts (
		run_id          UUID NOT NULL REFERENCES research_runs (id) ON DELETE CASCADE,
		attempt         INTEGER NOT NULL,
		overall_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
		critical_issues INTEGER NOT NULL DEFAULT 0,
		accepted        BOOLEAN NOT NULL DEFAULT FALSE,
		retry_reasons   TEXT[] NOT NULL DEFAULT '{}',
		duration_ms     BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, attempt)
	);`
	_, err := pool.Exec(ctx, ddl)
	require.NoError(t, err)
}

// startResultCache backs a ResultCache with an in-process redis.
func startResultCache(t *testing.T) *redisdb.ResultCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redisdb.NewClient(config.RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return redisdb.NewResultCache(client, logging.NewNopLogger())
}

// ---------------------------------------------------------------------------
// Scripted model backend
// ---------------------------------------------------------------------------

// scriptedBackend replays canned replies per task type. When a task's
// script runs out the last reply repeats, so a retry loop can be driven by
// a single rejection reply.
func scriptedBackend(generateReplies, scoreReplies []string) *common.MockBackend {
	var mu sync.Mutex
	next := map[common.TaskType]int{}
	scripts := map[common.TaskType][]string{
		common.TaskGenerate: generateReplies,
		common.TaskScore:    scoreReplies,
	}

	return &common.MockBackend{
		InvokeFunc: func(_ context.Context, req *common.InvokeRequest) (*common.InvokeResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			script := scripts[req.Task]
			if len(script) == 0 {
				return nil, fmt.Errorf("no scripted reply for task %q", req.Task)
			}
			i := next[req.Task]
			if i >= len(script) {
				i = len(script) - 1
			}
			next[req.Task]++
			return &common.InvokeResponse{Model: req.Model, Raw: script[i], LatencyMs: 50}, nil
		},
	}
}

// scoringReply builds a full rubric reply with a uniform score and
// confidence across every category.
func scoringReply(t *testing.T, score, confidence float64) string {
	t.Helper()
	categories := make(map[string]interface{})
	for _, c := range domainResearch.AllCategories() {
		categories[string(c)] = map[string]interface{}{
			"score":      score,
			"confidence": confidence,
			"reasoning":  "consistent with cited sources",
		}
	}
	doc := map[string]interface{}{
		"categories":      categories,
		"critical_issues": []interface{}{},
		"source_validation": map[string]interface{}{
			"total_sources":         8,
			"valid_sources":         7,
			"primary_sources":       3,
			"recent_sources":        6,
			"authoritative_sources": 5,
			"source_quality_score":  88,
		},
		"improvement_potential": 3,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

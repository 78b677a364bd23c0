//go:build integration

// Package repositories_test provides integration tests for the PostgreSQL
// audit store. Tests require Docker and are gated behind the "integration"
// build tag.
package repositories_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test helpers
// ─────────────────────────────────────────────────────────────────────────────

// startPostgres launches a PostgreSQL 16 container and returns a connected
// pool with the audit schema applied.
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

func auditContext(correlationID, target string) domainResearch.ResearchContext {
	return domainResearch.ResearchContext{
		CorrelationID: common.CorrelationID(correlationID),
		Target:        target,
		Indication:    "NSCLC",
		TherapeuticArea: domainResearch.TherapeuticAreaProfile{
			Name:            "oncology",
			CompetitorDepth: 5,
		},
		Geography: domainResearch.GeographyProfile{Region: "US"},
		Phase:     domainResearch.PhaseTwo,
	}
}

func auditResult(correlationID string, outcome domainResearch.RunOutcome, overall float64) *domainResearch.EngineResult {
	return &domainResearch.EngineResult{
		CorrelationID: correlationID,
		Outcome:       outcome,
		Document: domainResearch.Candidate{
			Summary: "KRAS G12C inhibitor market outlook",
			Sources: []domainResearch.Source{
				{Title: "FDA label", URL: "https://fda.gov/x", Type: domainResearch.SourcePrimary, Year: 2024, Authority: "FDA"},
			},
		},
		OverallScore:   overall,
		RetryCount:     1,
		SourceCount:    1,
		Elapsed:        1500 * time.Millisecond,
		BelowThreshold: outcome != domainResearch.OutcomeAccepted,
		Deals: []domainResearch.DealResearchResult{
			{Acquirer: "AlphaBio", Asset: "ALB-101", ValidationScore: 93.5},
		},
		Attempts: []domainResearch.AttemptReview{
			{Attempt: 0, OverallScore: overall - 8, Confidence: 0.85, CriticalIssues: 0, Accepted: false,
				RetryReasons: []string{"overall_score"}, Duration: 700 * time.Millisecond},
			{Attempt: 1, OverallScore: overall, Confidence: 0.9, Accepted: outcome == domainResearch.OutcomeAccepted,
				Duration: 800 * time.Millisecond},
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestRunRepository_SaveAndFind(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewRunRepository(pool, nil)
	ctx := context.Background()

	rc := auditContext("run-100", "KRAS G12C")
	res := auditResult("run-100", domainResearch.OutcomeAccepted, 92)
	require.NoError(t, repo.SaveRun(ctx, rc, res))

	rec, err := repo.FindByCorrelationID(ctx, "run-100")
	require.NoError(t, err)

	assert.Equal(t, "KRAS G12C", rec.Target)
	assert.Equal(t, "NSCLC", rec.Indication)
	assert.Equal(t, "oncology", rec.TherapeuticArea)
	assert.Equal(t, "US", rec.Region)
	assert.Equal(t, string(domainResearch.PhaseTwo), rec.Phase)
	assert.Equal(t, "accepted", rec.Outcome)
	assert.InDelta(t, 92, rec.OverallScore, 0.001)
	assert.Equal(t, 1, rec.RetryCount)
	assert.False(t, rec.BelowThreshold)
	assert.Equal(t, 1500*time.Millisecond, rec.Elapsed)
	assert.Equal(t, rc.Fingerprint(), rec.Fingerprint)

	// JSONB round trips.
	assert.Equal(t, "KRAS G12C inhibitor market outlook", rec.Document.Summary)
	require.Len(t, rec.Deals, 1)
	assert.Equal(t, "AlphaBio", rec.Deals[0].Acquirer)

	// Attempt trail in order.
	require.Len(t, rec.Attempts, 2)
	assert.Equal(t, 0, rec.Attempts[0].Attempt)
	assert.Equal(t, []string{"overall_score"}, rec.Attempts[0].RetryReasons)
	assert.Equal(t, 700*time.Millisecond, rec.Attempts[0].Duration)
	assert.True(t, rec.Attempts[1].Accepted)
}

func TestRunRepository_SaveIsIdempotent(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewRunRepository(pool, nil)
	ctx := context.Background()

	rc := auditContext("run-200", "EGFR")
	res := auditResult("run-200", domainResearch.OutcomeAccepted, 90)
	require.NoError(t, repo.SaveRun(ctx, rc, res))
	require.NoError(t, repo.SaveRun(ctx, rc, res))

	_, total, err := repo.ListRuns(ctx, repositories.RunSearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestRunRepository_FindMissing(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewRunRepository(pool, nil)

	_, err := repo.FindByCorrelationID(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeResearchRunNotFound))
}

func TestRunRepository_ListRunsFilters(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewRunRepository(pool, nil)
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, auditContext("run-a", "KRAS G12C"), auditResult("run-a", domainResearch.OutcomeAccepted, 92)))
	require.NoError(t, repo.SaveRun(ctx, auditContext("run-b", "KRAS G12C"), auditResult("run-b", domainResearch.OutcomeExhausted, 81)))
	require.NoError(t, repo.SaveRun(ctx, auditContext("run-c", "EGFR"), auditResult("run-c", domainResearch.OutcomeAccepted, 95)))

	accepted, total, err := repo.ListRuns(ctx, repositories.RunSearchCriteria{Outcome: "accepted"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, accepted, 2)

	kras, total, err := repo.ListRuns(ctx, repositories.RunSearchCriteria{Target: "KRAS G12C"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, rec := range kras {
		assert.Equal(t, "KRAS G12C", rec.Target)
	}

	// Pagination reports the full total while returning one page.
	page, total, err := repo.ListRuns(ctx, repositories.RunSearchCriteria{PageSize: 1, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 1)

	// Score-ordered listing.
	byScore, _, err := repo.ListRuns(ctx, repositories.RunSearchCriteria{SortBy: "overall_score", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, byScore, 3)
	assert.InDelta(t, 81, byScore[0].OverallScore, 0.001)
	assert.InDelta(t, 95, byScore[2].OverallScore, 0.001)
}

func TestRunRepository_CountByOutcome(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewRunRepository(pool, nil)
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, auditContext("run-1", "KRAS"), auditResult("run-1", domainResearch.OutcomeAccepted, 92)))
	require.NoError(t, repo.SaveRun(ctx, auditContext("run-2", "KRAS"), auditResult("run-2", domainResearch.OutcomeExhausted, 80)))
	require.NoError(t, repo.SaveRun(ctx, auditContext("run-3", "KRAS"), auditResult("run-3", domainResearch.OutcomeExhausted, 79)))

	counts, err := repo.CountByOutcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["accepted"])
	assert.Equal(t, int64(2), counts["exhausted"])
}

func TestRunRepository_PurgeOlderThan(t *testing.T) {
	pool := startPostgres(t)
	repo := repositories.NewRunRepository(pool, nil)
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, auditContext("run-old", "KRAS"), auditResult("run-old", domainResearch.OutcomeAccepted, 92)))

	purged, err := repo.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// Attempt rows follow the cascade.
	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM research_attempts`).Scan(&remaining))
	assert.Zero(t, remaining)
}

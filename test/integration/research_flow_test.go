// Integration test: full research flow. Drives the application service
// through a scripted model backend with a real PostgreSQL audit store and
// a redis-backed result cache: accept on the first attempt, serve the
// repeat request from cache, and retain the best effort when the retry
// budget runs out.
package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appresearch "github.com/turtacn/RxMarket-Intelligence/internal/application/research"
	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	pgrepos "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/quality_gate"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/research_gpt"
	"github.com/turtacn/RxMarket-Intelligence/internal/testutil"
	typesCommon "github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// buildService assembles the engine around a scripted backend, with the
// given side channels. MaxRetryAttempts is kept at two so an exhaustion
// scenario needs only two rejections.
func buildService(t *testing.T, backend *common.MockBackend, audit appresearch.AuditStore, cache appresearch.ResultCache) appresearch.Service {
	t.Helper()

	gen, err := research_gpt.NewGenerator(backend, research_gpt.Config{Model: "research-gpt-4"}, nil)
	require.NoError(t, err)
	scorer, err := quality_gate.NewScorer(backend, "scoring-gpt", nil)
	require.NoError(t, err)
	assessor, err := quality_gate.NewAssessor(scorer, nil)
	require.NoError(t, err)

	orch, err := appresearch.NewOrchestrator(
		appresearch.Config{MaxRetryAttempts: 2},
		appresearch.Deps{Generator: gen, Assessor: assessor, Logger: logging.NewNopLogger()},
	)
	require.NoError(t, err)

	svc, err := appresearch.NewService(
		appresearch.ServiceConfig{Origin: "integration"},
		appresearch.ServiceDeps{
			Orchestrator: orch,
			Cache:        cache,
			Audit:        audit,
			Logger:       logging.NewNopLogger(),
		},
	)
	require.NoError(t, err)
	return svc
}

func candidateReply(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(testutil.SampleCandidate())
	require.NoError(t, err)
	return string(data)
}

func TestResearchFlowAcceptedPersistsAndCaches(t *testing.T) {
	SkipIfNoIntegration(t)
	ctx := context.Background()

	pool := startPostgres(t)
	repo := pgrepos.NewRunRepository(pool, logging.NewNopLogger())
	cache := startResultCache(t)

	backend := scriptedBackend(
		[]string{candidateReply(t)},
		[]string{scoringReply(t, 92, 0.9)},
	)
	svc := buildService(t, backend, repo, cache)

	rc := testutil.SampleContext()
	res, err := svc.Execute(ctx, &appresearch.Request{Context: rc})
	require.NoError(t, err)

	assert.Equal(t, domainResearch.OutcomeAccepted, res.Outcome)
	assert.False(t, res.CacheHit)
	assert.False(t, res.BelowThreshold)
	assert.Len(t, res.Attempts, 1)
	assert.InDelta(t, 92, res.OverallScore, 0.01)

	// The terminal run is on the audit trail.
	rec, err := repo.FindByCorrelationID(ctx, string(rc.CorrelationID))
	require.NoError(t, err)
	assert.Equal(t, string(domainResearch.OutcomeAccepted), rec.Outcome)
	assert.Equal(t, rc.Fingerprint(), rec.Fingerprint)
	assert.Equal(t, rc.Target, rec.Target)
	assert.Len(t, rec.Attempts, 1)

	// An identical context under a fresh correlation ID is answered from
	// cache without spending another model call.
	generations := len(backend.InvocationsFor(common.TaskGenerate))
	rc2 := rc
	rc2.CorrelationID = typesCommon.CorrelationID("test-corr-0002")
	res2, err := svc.Execute(ctx, &appresearch.Request{Context: rc2})
	require.NoError(t, err)

	assert.True(t, res2.CacheHit)
	assert.Equal(t, rc2.CorrelationID, res2.CorrelationID)
	assert.Equal(t, domainResearch.OutcomeAccepted, res2.Outcome)
	assert.Equal(t, generations, len(backend.InvocationsFor(common.TaskGenerate)))
}

func TestResearchFlowExhaustedKeepsBestEffort(t *testing.T) {
	SkipIfNoIntegration(t)
	ctx := context.Background()

	pool := startPostgres(t)
	repo := pgrepos.NewRunRepository(pool, logging.NewNopLogger())
	cache := startResultCache(t)

	// Both attempts come back well under the acceptance threshold; the
	// second scores higher so best-of-N retention is observable.
	backend := scriptedBackend(
		[]string{candidateReply(t)},
		[]string{scoringReply(t, 62, 0.9), scoringReply(t, 71, 0.9)},
	)
	svc := buildService(t, backend, repo, cache)

	rc := testutil.SampleContext()
	rc.CorrelationID = typesCommon.CorrelationID("test-corr-exhausted")
	res, err := svc.Execute(ctx, &appresearch.Request{Context: rc})
	require.NoError(t, err)

	assert.Equal(t, domainResearch.OutcomeExhausted, res.Outcome)
	assert.True(t, res.BelowThreshold)
	assert.Len(t, res.Attempts, 2)
	assert.InDelta(t, 71, res.OverallScore, 0.01)
	assert.Len(t, backend.InvocationsFor(common.TaskGenerate), 2)

	rec, err := repo.FindByCorrelationID(ctx, string(rc.CorrelationID))
	require.NoError(t, err)
	assert.Equal(t, string(domainResearch.OutcomeExhausted), rec.Outcome)
	assert.True(t, rec.BelowThreshold)
	assert.Len(t, rec.Attempts, 2)

	// Only accepted results are cached.
	_, found, err := cache.Get(ctx, rc.Fingerprint())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResearchFlowRejectsIncompleteContext(t *testing.T) {
	SkipIfNoIntegration(t)

	backend := scriptedBackend(nil, nil)
	svc := buildService(t, backend, nil, nil)

	_, err := svc.Execute(context.Background(), &appresearch.Request{
		Context: domainResearch.ResearchContext{Indication: "NSCLC"},
	})
	require.Error(t, err)
	assert.Zero(t, backend.InvocationCount())
}

package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
)

func newTestAppMetrics(t *testing.T) (*AppMetrics, MetricsCollector) {
	t.Helper()
	c := NewMetricsCollector(CollectorConfig{Namespace: "test"}, logging.NewNopLogger())
	return NewAppMetrics(c), c
}

func TestNewAppMetrics_RegistersEverything(t *testing.T) {
	m, c := newTestAppMetrics(t)

	m.ResearchRunsTotal.WithLabelValues("api", "accepted").Inc()
	m.QualityCategoryScore.WithLabelValues("factual_accuracy").Observe(92)
	m.ValidationLayerScore.WithLabelValues("fact_check").Observe(88)
	m.GenerationRequestsTotal.WithLabelValues("research-gpt", "generate", "success").Inc()
	m.EventsPublishedTotal.WithLabelValues("research.completed", "success").Inc()

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_research_runs_total{origin="api",outcome="accepted"} 1`)
	assert.Contains(t, output, `category="factual_accuracy"`)
	assert.Contains(t, output, `layer="fact_check"`)
	assert.Contains(t, output, `test_generation_requests_total{model="research-gpt",operation="generate",status="success"} 1`)
	assert.Contains(t, output, `topic="research.completed"`)
}

func TestRecordResearchRun(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordResearchRun(m, "kafka", "exhausted", "comprehensive", 4, 90*time.Second)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_research_runs_total{origin="kafka",outcome="exhausted"} 1`)
	assert.Contains(t, output, `test_research_attempts_per_run_count{outcome="exhausted"} 1`)
	assert.Contains(t, output, `test_research_run_duration_seconds_count{depth="comprehensive"} 1`)
}

func TestRecordAssessment(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordAssessment(m, "retry", 78.5, 0.72, map[string]int{"source_credibility": 2})

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_quality_overall_score_count{outcome="retry"} 1`)
	assert.Contains(t, output, `test_quality_confidence_count{outcome="retry"} 1`)
	assert.Contains(t, output, `test_quality_critical_issues_total{category="source_credibility"} 2`)
}

func TestRecordGenerationCall(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordGenerationCall(m, "research-gpt", "score", nil, 2*time.Second)
	RecordGenerationCall(m, "research-gpt", "score", errors.New("timeout"), time.Second)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `status="success"} 1`)
	assert.Contains(t, output, `status="failure"} 1`)
}

func TestRecordCacheAccess(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordCacheAccess(m, "research_results", true)
	RecordCacheAccess(m, "research_results", true)
	RecordCacheAccess(m, "research_results", false)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_cache_hits_total{cache="research_results"} 2`)
	assert.Contains(t, output, `test_cache_misses_total{cache="research_results"} 1`)
}

func TestRecordRepositoryOp_CountsErrors(t *testing.T) {
	m, c := newTestAppMetrics(t)

	RecordRepositoryOp(m, "research_runs", "insert", 5*time.Millisecond, nil)
	RecordRepositoryOp(m, "research_runs", "insert", 5*time.Millisecond, errors.New("conn reset"))

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_db_query_duration_seconds_count{operation="insert",repository="research_runs"} 2`)
	assert.Contains(t, output, `test_errors_total{code="query_error",component="research_runs"} 1`)
}

func TestSetComponentHealth(t *testing.T) {
	m, c := newTestAppMetrics(t)

	SetComponentHealth(m, "postgres", true)
	SetComponentHealth(m, "redis", false)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_health_check_status{component="postgres"} 1`)
	assert.Contains(t, output, `test_health_check_status{component="redis"} 0`)
}

func TestHelpers_NilMetricsAreSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordResearchRun(nil, "api", "accepted", "standard", 1, time.Second)
		RecordAssessment(nil, "accepted", 90, 0.9, nil)
		RecordRetry(nil, "below_threshold")
		RecordGenerationCall(nil, "m", "generate", nil, time.Second)
		RecordValidationLayer(nil, "logic", 80, time.Second)
		RecordCacheAccess(nil, "c", true)
		RecordRepositoryOp(nil, "r", "op", time.Second, nil)
		RecordEventPublished(nil, "t", nil)
		SetComponentHealth(nil, "c", true)
		RecordError(nil, "c", "")
	})
}

func TestFormatAttempt(t *testing.T) {
	assert.Equal(t, "3", FormatAttempt(3))
}

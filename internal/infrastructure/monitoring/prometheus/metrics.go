package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every metric the research engine emits. A single instance
// is created at startup and handed to the layers that record into it.
type AppMetrics struct {
	// Research pipeline
	ResearchRunsTotal     CounterVec
	ResearchRunDuration   HistogramVec
	ResearchAttemptsTotal CounterVec
	ResearchRetriesTotal  CounterVec
	AttemptsPerRun        HistogramVec

	// Quality gate
	QualityOverallScore  HistogramVec
	QualityCategoryScore HistogramVec
	QualityConfidence    HistogramVec
	CriticalIssuesTotal  CounterVec
	AssessmentDuration   HistogramVec

	// Deep validation
	ValidationLayerScore    HistogramVec
	ValidationLayerDuration HistogramVec
	ValidationSourcesKept   HistogramVec
	SourcesDiscardedTotal   CounterVec

	// Model backend
	GenerationRequestsTotal  CounterVec
	GenerationDuration       HistogramVec
	MalformedCandidatesTotal CounterVec

	// Infrastructure
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	DBQueryDuration        HistogramVec
	EventsPublishedTotal   CounterVec
	EventsConsumedTotal    CounterVec
	DocumentsArchivedTotal CounterVec
	DocumentsIndexedTotal  CounterVec

	// System health
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Default buckets
var (
	// DefaultScoreBuckets covers the 0-100 quality score space with finer
	// resolution near the acceptance thresholds.
	DefaultScoreBuckets = []float64{40, 50, 60, 70, 75, 80, 85, 90, 94, 96, 98, 100}

	// DefaultConfidenceBuckets covers the 0-1 confidence space.
	DefaultConfidenceBuckets = []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1}

	// DefaultRunDurationBuckets suits full research runs, which span seconds
	// to minutes depending on retry depth.
	DefaultRunDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200}

	// DefaultModelDurationBuckets suits individual model backend calls.
	DefaultModelDurationBuckets = []float64{.5, 1, 2, 5, 10, 30, 60, 120}

	// DefaultDBDurationBuckets suits repository and cache operations.
	DefaultDBDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}

	// DefaultAttemptBuckets counts attempts within a run; runs are capped at
	// a handful of retries so the range is short.
	DefaultAttemptBuckets = []float64{1, 2, 3, 4, 5, 6, 8, 10}
)

// NewAppMetrics registers all engine metrics against the collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// Research pipeline
	m.ResearchRunsTotal = collector.RegisterCounter("research_runs_total", "Research runs by origin and terminal outcome", "origin", "outcome")
	m.ResearchRunDuration = collector.RegisterHistogram("research_run_duration_seconds", "Wall-clock duration of a research run", DefaultRunDurationBuckets, "depth")
	m.ResearchAttemptsTotal = collector.RegisterCounter("research_attempts_total", "Generation attempts by outcome", "outcome")
	m.ResearchRetriesTotal = collector.RegisterCounter("research_retries_total", "Retries by the gate condition that triggered them", "reason")
	m.AttemptsPerRun = collector.RegisterHistogram("research_attempts_per_run", "Attempts consumed per research run", DefaultAttemptBuckets, "outcome")

	// Quality gate
	m.QualityOverallScore = collector.RegisterHistogram("quality_overall_score", "Overall quality score per assessment", DefaultScoreBuckets, "outcome")
	m.QualityCategoryScore = collector.RegisterHistogram("quality_category_score", "Per-category quality score", DefaultScoreBuckets, "category")
	m.QualityConfidence = collector.RegisterHistogram("quality_confidence", "Assessment confidence per attempt", DefaultConfidenceBuckets, "outcome")
	m.CriticalIssuesTotal = collector.RegisterCounter("quality_critical_issues_total", "Critical issues raised by the quality gate", "category")
	m.AssessmentDuration = collector.RegisterHistogram("quality_assessment_duration_seconds", "Quality assessment duration", DefaultModelDurationBuckets, "model")

	// Deep validation
	m.ValidationLayerScore = collector.RegisterHistogram("validation_layer_score", "Per-layer validation score", DefaultScoreBuckets, "layer")
	m.ValidationLayerDuration = collector.RegisterHistogram("validation_layer_duration_seconds", "Per-layer validation duration", DefaultModelDurationBuckets, "layer")
	m.ValidationSourcesKept = collector.RegisterHistogram("validation_sources_kept", "Sources surviving validation per attempt", []float64{0, 1, 2, 3, 5, 8, 13, 21, 34}, "depth")
	m.SourcesDiscardedTotal = collector.RegisterCounter("validation_sources_discarded_total", "Sources discarded during validation", "reason")

	// Model backend
	m.GenerationRequestsTotal = collector.RegisterCounter("generation_requests_total", "Model backend calls", "model", "operation", "status")
	m.GenerationDuration = collector.RegisterHistogram("generation_duration_seconds", "Model backend call duration", DefaultModelDurationBuckets, "model", "operation")
	m.MalformedCandidatesTotal = collector.RegisterCounter("generation_malformed_candidates_total", "Candidates that failed structural parsing", "reason")

	// Infrastructure
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Repository operation duration", DefaultDBDurationBuckets, "repository", "operation")
	m.EventsPublishedTotal = collector.RegisterCounter("events_published_total", "Events published to the broker", "topic", "status")
	m.EventsConsumedTotal = collector.RegisterCounter("events_consumed_total", "Events consumed from the broker", "topic", "status")
	m.DocumentsArchivedTotal = collector.RegisterCounter("documents_archived_total", "Accepted documents archived to object storage", "status")
	m.DocumentsIndexedTotal = collector.RegisterCounter("documents_indexed_total", "Documents indexed for evidence search", "index", "status")

	// System health
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Component health (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Errors by component and code", "component", "code")

	return m
}

// Recording helpers

// RecordResearchRun records the terminal outcome of a run.
func RecordResearchRun(m *AppMetrics, origin, outcome, depth string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ResearchRunsTotal.WithLabelValues(origin, outcome).Inc()
	m.ResearchRunDuration.WithLabelValues(depth).Observe(duration.Seconds())
	m.AttemptsPerRun.WithLabelValues(outcome).Observe(float64(attempts))
}

// RecordAssessment records one quality gate verdict.
func RecordAssessment(m *AppMetrics, outcome string, overall float64, confidence float64, criticalByCategory map[string]int) {
	if m == nil {
		return
	}
	m.QualityOverallScore.WithLabelValues(outcome).Observe(overall)
	m.QualityConfidence.WithLabelValues(outcome).Observe(confidence)
	for category, n := range criticalByCategory {
		m.CriticalIssuesTotal.WithLabelValues(category).Add(float64(n))
	}
}

// RecordRetry records the gate condition that forced another attempt.
func RecordRetry(m *AppMetrics, reason string) {
	if m == nil {
		return
	}
	m.ResearchRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordGenerationCall records a model backend round trip.
func RecordGenerationCall(m *AppMetrics, model, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.GenerationRequestsTotal.WithLabelValues(model, operation, status).Inc()
	m.GenerationDuration.WithLabelValues(model, operation).Observe(duration.Seconds())
}

// RecordValidationLayer records a single validation layer pass.
func RecordValidationLayer(m *AppMetrics, layer string, score float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.ValidationLayerScore.WithLabelValues(layer).Observe(score)
	m.ValidationLayerDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordCacheAccess records a hit or miss against a named cache.
func RecordCacheAccess(m *AppMetrics, cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordRepositoryOp records a repository call and any resulting error.
func RecordRepositoryOp(m *AppMetrics, repository, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(repository, operation).Observe(duration.Seconds())
	if err != nil {
		m.ErrorsTotal.WithLabelValues(repository, "query_error").Inc()
	}
}

// RecordEventPublished records a broker publish attempt.
func RecordEventPublished(m *AppMetrics, topic string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.EventsPublishedTotal.WithLabelValues(topic, status).Inc()
}

// SetComponentHealth flips the health gauge for a component.
func SetComponentHealth(m *AppMetrics, component string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// RecordError counts an error against a component. Non-app errors are
// bucketed under their stringified code.
func RecordError(m *AppMetrics, component, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}

// FormatAttempt renders an attempt ordinal for use as a label value.
func FormatAttempt(attempt int) string {
	return strconv.Itoa(attempt)
}

package research

import (
	"time"

	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// RunOutcome is the terminal state of a research run.
type RunOutcome string

const (
	OutcomeAccepted  RunOutcome = "accepted"
	OutcomeExhausted RunOutcome = "exhausted"
	OutcomeFailed    RunOutcome = "failed"
)

// AttemptReview summarises one attempt for the caller-facing result and the
// audit trail.
type AttemptReview struct {
	Attempt        int           `json:"attempt"`
	OverallScore   float64       `json:"overall_score"`
	Confidence     float64       `json:"confidence"`
	CriticalIssues int           `json:"critical_issues"`
	Accepted       bool          `json:"accepted"`
	RetryReasons   []string      `json:"retry_reasons,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// EngineResult is what the engine hands to its caller. The excluded
// presentation and transport layers consume it as-is; the engine never
// formats it for display or transmission.
type EngineResult struct {
	CorrelationID common.CorrelationID `json:"correlation_id"`
	Outcome       RunOutcome           `json:"outcome"`

	// Document is the accepted candidate, or the best-scoring one seen when
	// the run exhausted its attempts.
	Document   Candidate         `json:"document"`
	Assessment QualityAssessment `json:"assessment"`

	// Deals carries the deep-validated records for full-depth runs.
	Deals []DealResearchResult `json:"deals,omitempty"`

	OverallScore float64       `json:"overall_score"`
	RetryCount   int           `json:"retry_count"`
	Elapsed      time.Duration `json:"elapsed"`
	SourceCount  int           `json:"source_count"`
	CacheHit     bool          `json:"cache_hit"`

	// BelowThreshold marks the best-effort result of an exhausted run. A
	// caller must treat it as distinct from success.
	BelowThreshold bool `json:"below_threshold"`

	Attempts []AttemptReview `json:"attempts"`
}

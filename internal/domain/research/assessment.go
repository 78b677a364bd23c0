package research

import (
	"fmt"
	"math"

	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Quality categories and weights
// ─────────────────────────────────────────────────────────────────────────────

// QualityCategory names one of the eight scored quality dimensions.
type QualityCategory string

const (
	CategoryFactualAccuracy      QualityCategory = "factual_accuracy"
	CategoryScientificCoherence  QualityCategory = "scientific_coherence"
	CategorySourceCredibility    QualityCategory = "source_credibility"
	CategoryPharmaExpertise      QualityCategory = "pharma_expertise"
	CategoryReasoningDepth       QualityCategory = "reasoning_depth"
	CategoryRegulatoryCompliance QualityCategory = "regulatory_compliance"
	CategoryMarketIntelligence   QualityCategory = "market_intelligence"
	CategoryCompetitiveAnalysis  QualityCategory = "competitive_analysis"

	// CategorySystem labels issues raised by the engine itself rather than
	// by the scoring rubric, e.g. an unscorable candidate. It carries no
	// weight and never contributes to the overall score.
	CategorySystem QualityCategory = "system"
)

// categoryWeights is the fixed weighting of the eight categories. The
// weights sum to 1.
var categoryWeights = map[QualityCategory]float64{
	CategoryFactualAccuracy:      0.20,
	CategoryScientificCoherence:  0.15,
	CategorySourceCredibility:    0.15,
	CategoryPharmaExpertise:      0.15,
	CategoryReasoningDepth:       0.10,
	CategoryRegulatoryCompliance: 0.10,
	CategoryMarketIntelligence:   0.10,
	CategoryCompetitiveAnalysis:  0.05,
}

// categoryOrder fixes the iteration order for deterministic output.
var categoryOrder = []QualityCategory{
	CategoryFactualAccuracy,
	CategoryScientificCoherence,
	CategorySourceCredibility,
	CategoryPharmaExpertise,
	CategoryReasoningDepth,
	CategoryRegulatoryCompliance,
	CategoryMarketIntelligence,
	CategoryCompetitiveAnalysis,
}

// AllCategories returns the eight quality categories in their canonical
// order.
func AllCategories() []QualityCategory {
	out := make([]QualityCategory, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// CategoryWeight returns the weight of a category, or 0 for unknown names.
func CategoryWeight(c QualityCategory) float64 {
	return categoryWeights[c]
}

// ─────────────────────────────────────────────────────────────────────────────
// Assessment component types
// ─────────────────────────────────────────────────────────────────────────────

// Severity grades an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// CategoryScore is one category's verdict within an assessment.
type CategoryScore struct {
	Score      float64  `json:"score"`      // 0-100
	Confidence float64  `json:"confidence"` // 0-1
	Reasoning  string   `json:"reasoning"`
	Evidence   []string `json:"evidence,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// CriticalIssue is a defect severe enough to force rejection regardless of
// the overall score: fabricated data, impossible magnitudes, contradictions.
type CriticalIssue struct {
	Severity     Severity        `json:"severity"`
	Category     QualityCategory `json:"category"`
	Description  string          `json:"description"`
	Impact       string          `json:"impact"`
	SuggestedFix string          `json:"suggested_fix"`
	Evidence     []string        `json:"evidence,omitempty"`
}

// SourceValidation summarises citation coverage across a candidate.
type SourceValidation struct {
	TotalSources           int      `json:"total_sources"`
	ValidSources           int      `json:"valid_sources"`
	PrimarySources         int      `json:"primary_sources"`
	RecentSources          int      `json:"recent_sources"`
	AuthoritativeSources   int      `json:"authoritative_sources"`
	SourceQualityScore     float64  `json:"source_quality_score"` // 0-100
	MissingCriticalSources []string `json:"missing_critical_sources,omitempty"`
	SourceGaps             []string `json:"source_gaps,omitempty"`
}

// RetryPriority grades how urgently a retry should address the assessment's
// findings.
type RetryPriority string

const (
	RetryPriorityNone   RetryPriority = "none"
	RetryPriorityLow    RetryPriority = "low"
	RetryPriorityMedium RetryPriority = "medium"
	RetryPriorityHigh   RetryPriority = "high"
)

// ─────────────────────────────────────────────────────────────────────────────
// QualityAssessment
// ─────────────────────────────────────────────────────────────────────────────

// Acceptance gates applied on top of the overall threshold. A candidate must
// clear every one of them.
const (
	GateMinSourceCredibility = 80.0
	GateMinReasoningDepth    = 80.0
	GateMinConfidence        = 0.8
	GateMinSourceQuality     = 80.0
	GateMaxImprovePotential  = 8.0
	OverallWeightTolerance   = 0.1
)

// QualityAssessment is the Quality Assessor's verdict on one candidate.
// Immutable once created; the orchestrator retains the best one across
// attempts.
type QualityAssessment struct {
	Attempt               int                               `json:"attempt"`
	OverallScore          float64                           `json:"overall_score"` // 0-100
	CategoryScores        map[QualityCategory]CategoryScore `json:"category_scores"`
	CriticalIssues        []CriticalIssue                   `json:"critical_issues,omitempty"`
	SourceValidation      SourceValidation                  `json:"source_validation"`
	Confidence            float64                           `json:"confidence"` // 0-1
	ShouldRetry           bool                              `json:"should_retry"`
	RetryPriority         RetryPriority                     `json:"retry_priority"`
	CorrectiveInstruction string                            `json:"corrective_instruction,omitempty"`
	ImprovementPotential  float64                           `json:"improvement_potential"` // 0-10
	CreatedAt             common.Timestamp                  `json:"created_at"`
}

// ComputeOverall returns the weight-normalised sum of the category scores:
// missing categories drop out of both the numerator and the denominator, so
// a partial score set still lands on the 0-100 scale.
func ComputeOverall(scores map[QualityCategory]CategoryScore) float64 {
	var weighted, weightSum float64
	for _, c := range categoryOrder {
		s, ok := scores[c]
		if !ok {
			continue
		}
		w := categoryWeights[c]
		weighted += w * s.Score
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return weighted / weightSum
}

// MinConfidence returns the minimum per-category confidence. A single
// low-confidence category must not be masked by averaging. An empty score
// set yields 0.
func MinConfidence(scores map[QualityCategory]CategoryScore) float64 {
	min := math.Inf(1)
	for _, s := range scores {
		if s.Confidence < min {
			min = s.Confidence
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// ConsistentOverall reports whether the stored overall score equals the
// recomputed weight-normalised sum within the rounding tolerance.
func (a QualityAssessment) ConsistentOverall() bool {
	return math.Abs(a.OverallScore-ComputeOverall(a.CategoryScores)) <= OverallWeightTolerance
}

func (a QualityAssessment) categoryScore(c QualityCategory) float64 {
	if s, ok := a.CategoryScores[c]; ok {
		return s.Score
	}
	return 0
}

// AcceptedAt reports whether the assessment clears every acceptance gate at
// the given 0-1 threshold.
//
// Acceptance is monotonic in the threshold: accepted at T implies accepted
// at any T' <= T, since only the overall gate depends on it.
func (a QualityAssessment) AcceptedAt(threshold float64) bool {
	return len(a.FailedAcceptanceGates(threshold)) == 0
}

// FailedAcceptanceGates returns the acceptance gates the assessment misses
// at the given threshold: overall at or above threshold, zero critical
// issues, source credibility and reasoning depth at or above 80, confidence
// at or above 0.8, and source quality at or above 80. An empty list means
// the candidate is acceptable.
func (a QualityAssessment) FailedAcceptanceGates(threshold float64) []string {
	var failed []string

	if a.OverallScore < threshold*100 {
		failed = append(failed, fmt.Sprintf("overall score %.1f below threshold %.1f", a.OverallScore, threshold*100))
	}
	if len(a.CriticalIssues) > 0 {
		failed = append(failed, fmt.Sprintf("%d critical issue(s) present", len(a.CriticalIssues)))
	}
	if sc := a.categoryScore(CategorySourceCredibility); sc < GateMinSourceCredibility {
		failed = append(failed, fmt.Sprintf("source credibility %.1f below %.0f", sc, GateMinSourceCredibility))
	}
	if rd := a.categoryScore(CategoryReasoningDepth); rd < GateMinReasoningDepth {
		failed = append(failed, fmt.Sprintf("reasoning depth %.1f below %.0f", rd, GateMinReasoningDepth))
	}
	if a.Confidence < GateMinConfidence {
		failed = append(failed, fmt.Sprintf("confidence %.2f below %.2f", a.Confidence, GateMinConfidence))
	}
	if a.SourceValidation.SourceQualityScore < GateMinSourceQuality {
		failed = append(failed, fmt.Sprintf("source quality %.1f below %.0f", a.SourceValidation.SourceQualityScore, GateMinSourceQuality))
	}

	return failed
}

// RetryReasonsAt returns the assessor's retry triggers at the given
// threshold: any critical issue, overall below threshold, weak source
// credibility or reasoning depth, improvement potential above 8, or low
// confidence. The retry trigger set is deliberately not identical to the
// acceptance gate set: improvement potential argues for another attempt
// without blocking acceptance, while weak source quality blocks acceptance
// without by itself arguing that regeneration would fix it.
func (a QualityAssessment) RetryReasonsAt(threshold float64) []string {
	var reasons []string

	if len(a.CriticalIssues) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d critical issue(s) present", len(a.CriticalIssues)))
	}
	if a.OverallScore < threshold*100 {
		reasons = append(reasons, fmt.Sprintf("overall score %.1f below threshold %.1f", a.OverallScore, threshold*100))
	}
	if sc := a.categoryScore(CategorySourceCredibility); sc < GateMinSourceCredibility {
		reasons = append(reasons, fmt.Sprintf("source credibility %.1f below %.0f", sc, GateMinSourceCredibility))
	}
	if rd := a.categoryScore(CategoryReasoningDepth); rd < GateMinReasoningDepth {
		reasons = append(reasons, fmt.Sprintf("reasoning depth %.1f below %.0f", rd, GateMinReasoningDepth))
	}
	if a.ImprovementPotential > GateMaxImprovePotential {
		reasons = append(reasons, fmt.Sprintf("improvement potential %.1f above %.0f", a.ImprovementPotential, GateMaxImprovePotential))
	}
	if a.Confidence < GateMinConfidence {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below %.2f", a.Confidence, GateMinConfidence))
	}

	return reasons
}

// WeakCategories returns the categories scoring below the given floor, in
// canonical order, for corrective-instruction building.
func (a QualityAssessment) WeakCategories(floor float64) []QualityCategory {
	var weak []QualityCategory
	for _, c := range categoryOrder {
		if s, ok := a.CategoryScores[c]; ok && s.Score < floor {
			weak = append(weak, c)
		}
	}
	return weak
}

// PriorityFor maps a failed-gate count to a retry priority.
func PriorityFor(reasonCount int, criticalCount int) RetryPriority {
	switch {
	case criticalCount > 0:
		return RetryPriorityHigh
	case reasonCount >= 3:
		return RetryPriorityHigh
	case reasonCount == 2:
		return RetryPriorityMedium
	case reasonCount == 1:
		return RetryPriorityLow
	default:
		return RetryPriorityNone
	}
}

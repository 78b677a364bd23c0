package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scoresWith builds a full eight-category score map at the given base score
// and confidence, then applies overrides.
func scoresWith(base, confidence float64, overrides map[QualityCategory]CategoryScore) map[QualityCategory]CategoryScore {
	out := make(map[QualityCategory]CategoryScore, 8)
	for _, c := range AllCategories() {
		out[c] = CategoryScore{Score: base, Confidence: confidence}
	}
	for c, s := range overrides {
		out[c] = s
	}
	return out
}

func TestCategoryWeights_SumToOne(t *testing.T) {
	t.Parallel()

	var sum float64
	for _, c := range AllCategories() {
		sum += CategoryWeight(c)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, AllCategories(), 8)
}

func TestComputeOverall_WeightedSum(t *testing.T) {
	t.Parallel()

	scores := map[QualityCategory]CategoryScore{
		CategoryFactualAccuracy:      {Score: 90},
		CategoryScientificCoherence:  {Score: 80},
		CategorySourceCredibility:    {Score: 85},
		CategoryPharmaExpertise:      {Score: 85},
		CategoryReasoningDepth:       {Score: 82},
		CategoryRegulatoryCompliance: {Score: 88},
		CategoryMarketIntelligence:   {Score: 75},
		CategoryCompetitiveAnalysis:  {Score: 70},
	}

	// 0.20×90 + 0.15×80 + 0.15×85 + 0.15×85 + 0.10×82 + 0.10×88 + 0.10×75 + 0.05×70
	assert.InDelta(t, 83.5, ComputeOverall(scores), 1e-9)
}

func TestComputeOverall_UniformScores(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 85.0, ComputeOverall(scoresWith(85, 0.9, nil)), 1e-9)
}

func TestComputeOverall_PartialSetNormalises(t *testing.T) {
	t.Parallel()

	scores := map[QualityCategory]CategoryScore{
		CategoryFactualAccuracy:     {Score: 80},
		CategoryScientificCoherence: {Score: 80},
	}
	assert.InDelta(t, 80.0, ComputeOverall(scores), 1e-9)
}

func TestComputeOverall_Empty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, ComputeOverall(nil))
}

func TestMinConfidence(t *testing.T) {
	t.Parallel()

	scores := scoresWith(85, 0.9, map[QualityCategory]CategoryScore{
		CategoryMarketIntelligence: {Score: 85, Confidence: 0.55},
	})
	assert.InDelta(t, 0.55, MinConfidence(scores), 1e-9)
	assert.Equal(t, 0.0, MinConfidence(nil))
}

func TestConsistentOverall(t *testing.T) {
	t.Parallel()

	scores := scoresWith(85, 0.9, nil)
	a := QualityAssessment{OverallScore: 85.05, CategoryScores: scores}
	assert.True(t, a.ConsistentOverall())

	a.OverallScore = 86.0
	assert.False(t, a.ConsistentOverall())
}

func TestAcceptedAtPassingRun(t *testing.T) {
	t.Parallel()

	// overall=88, sourceCredibility=85, reasoningDepth=82, confidence=0.85,
	// zero critical issues, threshold=0.82: accepted.
	scores := scoresWith(90, 0.85, map[QualityCategory]CategoryScore{
		CategorySourceCredibility: {Score: 85, Confidence: 0.85},
		CategoryReasoningDepth:    {Score: 82, Confidence: 0.85},
	})
	a := QualityAssessment{
		OverallScore:     88,
		CategoryScores:   scores,
		Confidence:       0.85,
		SourceValidation: SourceValidation{SourceQualityScore: 85},
	}

	assert.True(t, a.AcceptedAt(0.82))
	assert.Empty(t, a.FailedAcceptanceGates(0.82))
}

func TestAcceptedAt_BelowThresholdRejected(t *testing.T) {
	t.Parallel()

	a := QualityAssessment{
		OverallScore:     80,
		CategoryScores:   scoresWith(80, 0.9, nil),
		Confidence:       0.9,
		SourceValidation: SourceValidation{SourceQualityScore: 85},
	}

	assert.False(t, a.AcceptedAt(0.85))
	assert.NotEmpty(t, a.RetryReasonsAt(0.85))
}

func TestAcceptedAt_MonotonicInThreshold(t *testing.T) {
	t.Parallel()

	a := QualityAssessment{
		OverallScore:     88,
		CategoryScores:   scoresWith(88, 0.9, nil),
		Confidence:       0.9,
		SourceValidation: SourceValidation{SourceQualityScore: 90},
	}

	require.True(t, a.AcceptedAt(0.88))
	for _, lower := range []float64{0.85, 0.80, 0.70, 0.50, 0.10} {
		assert.True(t, a.AcceptedAt(lower), "accepted at 0.88 must stay accepted at %.2f", lower)
	}
}

func TestAcceptedAt_CriticalIssueBlocksRegardlessOfScore(t *testing.T) {
	t.Parallel()

	a := QualityAssessment{
		OverallScore:   95,
		CategoryScores: scoresWith(95, 0.95, nil),
		Confidence:     0.95,
		CriticalIssues: []CriticalIssue{{
			Severity:    SeverityCritical,
			Category:    CategoryFactualAccuracy,
			Description: "peak revenue exceeds total indication market",
		}},
		SourceValidation: SourceValidation{SourceQualityScore: 90},
	}

	assert.False(t, a.AcceptedAt(0.85))
	assert.Contains(t, a.FailedAcceptanceGates(0.85)[0], "critical issue")
}

func TestAcceptedAt_GateFloors(t *testing.T) {
	t.Parallel()

	base := func() QualityAssessment {
		return QualityAssessment{
			OverallScore:     90,
			CategoryScores:   scoresWith(90, 0.9, nil),
			Confidence:       0.9,
			SourceValidation: SourceValidation{SourceQualityScore: 90},
		}
	}

	t.Run("weak source credibility", func(t *testing.T) {
		t.Parallel()
		a := base()
		a.CategoryScores[CategorySourceCredibility] = CategoryScore{Score: 79, Confidence: 0.9}
		a.OverallScore = ComputeOverall(a.CategoryScores)
		assert.False(t, a.AcceptedAt(0.80))
	})

	t.Run("weak reasoning depth", func(t *testing.T) {
		t.Parallel()
		a := base()
		a.CategoryScores[CategoryReasoningDepth] = CategoryScore{Score: 79, Confidence: 0.9}
		a.OverallScore = ComputeOverall(a.CategoryScores)
		assert.False(t, a.AcceptedAt(0.80))
	})

	t.Run("low confidence", func(t *testing.T) {
		t.Parallel()
		a := base()
		a.Confidence = 0.79
		assert.False(t, a.AcceptedAt(0.80))
	})

	t.Run("weak source quality", func(t *testing.T) {
		t.Parallel()
		a := base()
		a.SourceValidation.SourceQualityScore = 70
		assert.False(t, a.AcceptedAt(0.80))
	})
}

func TestRetryAndAcceptanceGatesDiffer(t *testing.T) {
	t.Parallel()

	t.Run("improvement potential triggers retry but not rejection", func(t *testing.T) {
		t.Parallel()
		a := QualityAssessment{
			OverallScore:         90,
			CategoryScores:       scoresWith(90, 0.9, nil),
			Confidence:           0.9,
			ImprovementPotential: 9,
			SourceValidation:     SourceValidation{SourceQualityScore: 90},
		}
		assert.True(t, a.AcceptedAt(0.85))
		assert.NotEmpty(t, a.RetryReasonsAt(0.85))
	})

	t.Run("weak source quality blocks acceptance without a retry trigger", func(t *testing.T) {
		t.Parallel()
		a := QualityAssessment{
			OverallScore:     90,
			CategoryScores:   scoresWith(90, 0.9, nil),
			Confidence:       0.9,
			SourceValidation: SourceValidation{SourceQualityScore: 70},
		}
		assert.False(t, a.AcceptedAt(0.85))
		assert.Empty(t, a.RetryReasonsAt(0.85))
	})
}

func TestWeakCategories_CanonicalOrder(t *testing.T) {
	t.Parallel()

	a := QualityAssessment{
		CategoryScores: scoresWith(90, 0.9, map[QualityCategory]CategoryScore{
			CategoryCompetitiveAnalysis: {Score: 60},
			CategoryFactualAccuracy:     {Score: 65},
			CategoryReasoningDepth:      {Score: 70},
		}),
	}

	weak := a.WeakCategories(80)
	require.Equal(t, []QualityCategory{
		CategoryFactualAccuracy,
		CategoryReasoningDepth,
		CategoryCompetitiveAnalysis,
	}, weak)
}

func TestPriorityFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RetryPriorityHigh, PriorityFor(1, 2))
	assert.Equal(t, RetryPriorityHigh, PriorityFor(3, 0))
	assert.Equal(t, RetryPriorityMedium, PriorityFor(2, 0))
	assert.Equal(t, RetryPriorityLow, PriorityFor(1, 0))
	assert.Equal(t, RetryPriorityNone, PriorityFor(0, 0))
}

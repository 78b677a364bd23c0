package quality_gate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

func testCandidate() *research.Candidate {
	return &research.Candidate{
		Summary: "KRAS G12C inhibitor opportunity in NSCLC.",
		Market: research.MarketFigures{
			CurrentMarketUSD: 500_000_000,
			PeakRevenueUSD:   2_000_000_000,
			YearsToPeak:      5,
			ReportedCAGR:     0.3195,
		},
		Sources: []research.Source{
			{Title: "Amgen 10-K", URL: "https://example.com/10k", Type: research.SourcePrimary, Year: 2025, Authority: "SEC"},
		},
	}
}

func testScoreContext() research.ResearchContext {
	return research.ResearchContext{
		CorrelationID:   "run-7",
		Target:          "KRAS G12C",
		Indication:      "NSCLC",
		TherapeuticArea: research.TherapeuticAreaProfile{Name: "oncology"},
		Geography:       research.GeographyProfile{Region: "US"},
		Phase:           research.PhaseApproved,
	}
}

// scoringReply builds a full rubric reply, score and confidence per category,
// with optional per-category overrides applied afterwards.
func scoringReply(t *testing.T, score, confidence float64, mutate func(doc map[string]interface{})) string {
	t.Helper()
	categories := make(map[string]interface{})
	for _, c := range research.AllCategories() {
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
			"total_sources":         10,
			"valid_sources":         9,
			"primary_sources":       4,
			"recent_sources":        8,
			"authoritative_sources": 6,
			"source_quality_score":  88,
		},
		"improvement_potential": 4,
	}
	if mutate != nil {
		mutate(doc)
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func newTestScorer(t *testing.T, mock *common.MockBackend) Scorer {
	t.Helper()
	s, err := NewScorer(mock, "scoring-gpt", nil)
	require.NoError(t, err)
	return s
}

func TestNewScorerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewScorer(nil, "m", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetCode(err))

	_, err = NewScorer(&common.MockBackend{}, "  ", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetCode(err))
}

func TestScoreSuccess(t *testing.T) {
	t.Parallel()

	reply := scoringReply(t, 90, 0.9, nil)
	mock := &common.MockBackend{
		InvokeFunc: func(_ context.Context, req *common.InvokeRequest) (*common.InvokeResponse, error) {
			return &common.InvokeResponse{Model: req.Model, Raw: reply, LatencyMs: 80}, nil
		},
	}
	s := newTestScorer(t, mock)

	out, err := s.Score(context.Background(), &ScoreRequest{
		Candidate: testCandidate(),
		Context:   testScoreContext(),
		Attempt:   1,
	})
	require.NoError(t, err)

	assert.Len(t, out.CategoryScores, 8)
	assert.Equal(t, 90.0, out.CategoryScores[research.CategoryFactualAccuracy].Score)
	assert.Equal(t, 0.9, out.CategoryScores[research.CategorySourceCredibility].Confidence)
	assert.Empty(t, out.CriticalIssues)
	assert.Equal(t, 88.0, out.SourceValidation.SourceQualityScore)
	assert.Equal(t, 4.0, out.ImprovementPotential)
	assert.Equal(t, "scoring-gpt", out.Model)
	assert.Equal(t, int64(80), out.LatencyMs)
}

func TestScorePayloadShape(t *testing.T) {
	t.Parallel()

	reply := scoringReply(t, 85, 0.85, nil)
	mock := &common.MockBackend{
		InvokeFunc: func(_ context.Context, _ *common.InvokeRequest) (*common.InvokeResponse, error) {
			return &common.InvokeResponse{Raw: reply}, nil
		},
	}
	s := newTestScorer(t, mock)

	_, err := s.Score(context.Background(), &ScoreRequest{
		Candidate: testCandidate(),
		Context:   testScoreContext(),
		Attempt:   2,
	})
	require.NoError(t, err)

	calls := mock.InvocationsFor(common.TaskScore)
	require.Len(t, calls, 1)
	call := calls[0]

	assert.Equal(t, "scoring-gpt", call.Model)
	assert.Equal(t, "run-7", call.Metadata["correlation_id"])
	assert.Contains(t, common.StringField(call.Payload, "system"), "factual_accuracy (weight 0.20)")

	cand := call.Payload.GetFields()["candidate"].GetStructValue()
	require.NotNil(t, cand)
	assert.Contains(t, common.StringField(cand, "summary"), "KRAS G12C")

	ctxStruct := call.Payload.GetFields()["context"].GetStructValue()
	require.NotNil(t, ctxStruct)
	assert.Equal(t, "KRAS G12C", common.StringField(ctxStruct, "target"))

	attempt, ok := common.NumberField(call.Payload, "attempt")
	require.True(t, ok)
	assert.Equal(t, 2.0, attempt)
}

func TestScoreClampsOutOfRangeValues(t *testing.T) {
	t.Parallel()

	reply := scoringReply(t, 90, 0.9, func(doc map[string]interface{}) {
		cats := doc["categories"].(map[string]interface{})
		cats[string(research.CategoryFactualAccuracy)] = map[string]interface{}{
			"score":      140,
			"confidence": -0.3,
		}
		doc["improvement_potential"] = 25
	})
	mock := &common.MockBackend{
		InvokeFunc: func(_ context.Context, _ *common.InvokeRequest) (*common.InvokeResponse, error) {
			return &common.InvokeResponse{Raw: reply}, nil
		},
	}
	s := newTestScorer(t, mock)

	out, err := s.Score(context.Background(), &ScoreRequest{Candidate: testCandidate(), Context: testScoreContext()})
	require.NoError(t, err)

	assert.Equal(t, 100.0, out.CategoryScores[research.CategoryFactualAccuracy].Score)
	assert.Equal(t, 0.0, out.CategoryScores[research.CategoryFactualAccuracy].Confidence)
	assert.Equal(t, 10.0, out.ImprovementPotential)
}

func TestScoreDropsUnknownCategories(t *testing.T) {
	t.Parallel()

	reply := scoringReply(t, 90, 0.9, func(doc map[string]interface{}) {
		cats := doc["categories"].(map[string]interface{})
		cats["vibes"] = map[string]interface{}{"score": 99, "confidence": 1}
	})
	mock := &common.MockBackend{
		InvokeFunc: func(_ context.Context, _ *common.InvokeRequest) (*common.InvokeResponse, error) {
			return &common.InvokeResponse{Raw: reply}, nil
		},
	}
	s := newTestScorer(t, mock)

	out, err := s.Score(context.Background(), &ScoreRequest{Candidate: testCandidate(), Context: testScoreContext()})
	require.NoError(t, err)
	assert.Len(t, out.CategoryScores, 8)
	_, present := out.CategoryScores[research.QualityCategory("vibes")]
	assert.False(t, present)
}

func TestScoreUnparseableReply(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"the candidate looks fine to me",
		`{"categories": {}}`,
		`{"categories": {"vibes": {"score": 90}}}`,
	} {
		mock := &common.MockBackend{
			InvokeFunc: func(_ context.Context, _ *common.InvokeRequest) (*common.InvokeResponse, error) {
				return &common.InvokeResponse{Raw: raw}, nil
			},
		}
		s := newTestScorer(t, mock)

		_, err := s.Score(context.Background(), &ScoreRequest{Candidate: testCandidate(), Context: testScoreContext()})
		require.Error(t, err, "raw=%q", raw)
		assert.Equal(t, errors.ErrCodeAssessmentUnparseable, errors.GetCode(err))
	}
}

func TestScoreBackendErrorPassthrough(t *testing.T) {
	t.Parallel()

	mock := &common.MockBackend{
		InvokeFunc: func(_ context.Context, _ *common.InvokeRequest) (*common.InvokeResponse, error) {
			return nil, errors.New(errors.ErrCodeScoringUnavailable, "scorer down")
		},
	}
	s := newTestScorer(t, mock)

	_, err := s.Score(context.Background(), &ScoreRequest{Candidate: testCandidate(), Context: testScoreContext()})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeScoringUnavailable, errors.GetCode(err))
}

func TestScoreNilCandidate(t *testing.T) {
	t.Parallel()

	s := newTestScorer(t, &common.MockBackend{})
	_, err := s.Score(context.Background(), nil)
	require.Error(t, err)

	_, err = s.Score(context.Background(), &ScoreRequest{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.GetCode(err))
}

// Package quality_gate is the scoring capability of the engine: it has a
// candidate graded against the eight-category rubric by the scoring model
// and assembles the result into a quality assessment with a retry verdict.
package quality_gate

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Scorer contract
// ---------------------------------------------------------------------------

// ScoreRequest asks the scoring model to grade one candidate.
type ScoreRequest struct {
	Candidate *research.Candidate
	Context   research.ResearchContext
	Attempt   int
}

// ScoredOutput is the parsed scoring reply before assessment assembly.
type ScoredOutput struct {
	CategoryScores       map[research.QualityCategory]research.CategoryScore
	CriticalIssues       []research.CriticalIssue
	SourceValidation     research.SourceValidation
	ImprovementPotential float64
	Model                string
	LatencyMs            int64
}

// Scorer grades candidates through an external scoring model.
type Scorer interface {
	Score(ctx context.Context, req *ScoreRequest) (*ScoredOutput, error)
	Healthy(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Model-backed scorer
// ---------------------------------------------------------------------------

type modelScorer struct {
	backend common.ModelBackend
	model   string
	logger  logging.Logger
}

// NewScorer wires a scorer to a model backend.
func NewScorer(backend common.ModelBackend, model string, logger logging.Logger) (Scorer, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "model backend is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "scoring model name is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &modelScorer{backend: backend, model: model, logger: logger.Named("quality_gate")}, nil
}

func (s *modelScorer) Score(ctx context.Context, req *ScoreRequest) (*ScoredOutput, error) {
	if req == nil || req.Candidate == nil {
		return nil, errors.New(errors.ErrCodeValidation, "score request needs a candidate")
	}

	payload, err := scoringPayload(req)
	if err != nil {
		return nil, err
	}

	resp, err := s.backend.Invoke(ctx, &common.InvokeRequest{
		Model:   s.model,
		Task:    common.TaskScore,
		Payload: payload,
		Metadata: map[string]string{
			"correlation_id": string(req.Context.CorrelationID),
		},
	})
	if err != nil {
		return nil, err
	}

	body, err := resp.Body()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAssessmentUnparseable, "scoring reply is not readable")
	}

	out, err := s.parseScoring(body)
	if err != nil {
		return nil, err
	}
	out.Model = resp.Model
	out.LatencyMs = resp.LatencyMs
	return out, nil
}

func (s *modelScorer) Healthy(ctx context.Context) error {
	return s.backend.Healthy(ctx)
}

// ---------------------------------------------------------------------------
// Scoring reply parsing
// ---------------------------------------------------------------------------

// scoringDocument is the wire shape the scoring model replies with.
type scoringDocument struct {
	Categories           map[string]research.CategoryScore `json:"categories"`
	CriticalIssues       []research.CriticalIssue          `json:"critical_issues"`
	SourceValidation     research.SourceValidation         `json:"source_validation"`
	ImprovementPotential float64                           `json:"improvement_potential"`
}

func (s *modelScorer) parseScoring(raw []byte) (*ScoredOutput, error) {
	var doc scoringDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAssessmentUnparseable, "scoring reply is not a rubric document")
	}

	known := make(map[research.QualityCategory]struct{}, len(research.AllCategories()))
	for _, c := range research.AllCategories() {
		known[c] = struct{}{}
	}

	scores := make(map[research.QualityCategory]research.CategoryScore, len(doc.Categories))
	for name, cs := range doc.Categories {
		cat := research.QualityCategory(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := known[cat]; !ok {
			s.logger.Warn("dropping unknown rubric category", logging.String("category", name))
			continue
		}
		cs.Score = clamp(cs.Score, 0, 100)
		cs.Confidence = clamp(cs.Confidence, 0, 1)
		scores[cat] = cs
	}
	if len(scores) == 0 {
		return nil, errors.New(errors.ErrCodeAssessmentUnparseable, "scoring reply carries no known categories")
	}

	return &ScoredOutput{
		CategoryScores:       scores,
		CriticalIssues:       doc.CriticalIssues,
		SourceValidation:     doc.SourceValidation,
		ImprovementPotential: clamp(doc.ImprovementPotential, 0, 10),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---------------------------------------------------------------------------
// Scoring payload
// ---------------------------------------------------------------------------

const scoringSystemPrompt = `You are the quality gate for pharmaceutical commercial research documents.
Grade the candidate on these categories, each 0-100 with a 0-1 confidence:
- factual_accuracy (weight 0.20): every figure traceable to a cited source, no fabricated data
- scientific_coherence (weight 0.15): mechanisms, endpoints, and biology are internally consistent
- source_credibility (weight 0.15): primary and authoritative sources dominate
- pharma_expertise (weight 0.15): correct use of development, regulatory, and reimbursement concepts
- reasoning_depth (weight 0.10): conclusions derived, not asserted
- regulatory_compliance (weight 0.10): incentives, exclusivities, and approval pathways are correct
- market_intelligence (weight 0.10): sizing, pricing, and access assumptions are defensible
- competitive_analysis (weight 0.05): competitor set is complete and correctly staged
Flag critical issues separately: fabricated data, impossible magnitudes, internal contradictions.
Summarise source coverage: totals, valid, primary, recent, authoritative, a 0-100 source quality score, missing critical sources, and source gaps.
Estimate improvement_potential 0-10: how much a regeneration guided by your findings could gain.
Reply with one JSON object: {"categories": {<name>: {"score", "confidence", "reasoning", "evidence", "issues"}}, "critical_issues": [{"severity", "category", "description", "impact", "suggested_fix", "evidence"}], "source_validation": {"total_sources", "valid_sources", "primary_sources", "recent_sources", "authoritative_sources", "source_quality_score", "missing_critical_sources", "source_gaps"}, "improvement_potential"}.`

func scoringPayload(req *ScoreRequest) (*structpb.Struct, error) {
	candJSON, err := json.Marshal(req.Candidate)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "candidate document")
	}
	candStruct, err := common.StructFromJSON(candJSON)
	if err != nil {
		return nil, err
	}
	ctxStruct, err := structpb.NewStruct(map[string]interface{}{
		"target":           req.Context.Target,
		"indication":       req.Context.Indication,
		"therapeutic_area": req.Context.TherapeuticArea.Name,
		"region":           req.Context.Geography.Region,
		"phase":            string(req.Context.Phase),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "scoring context")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"system":    structpb.NewStringValue(scoringSystemPrompt),
		"candidate": structpb.NewStructValue(candStruct),
		"context":   structpb.NewStructValue(ctxStruct),
		"attempt":   structpb.NewNumberValue(float64(req.Attempt)),
	}}, nil
}

package quality_gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// ---------------------------------------------------------------------------
// Assessor contract
// ---------------------------------------------------------------------------

// AssessRequest grades one candidate against the run's parameters.
type AssessRequest struct {
	Candidate *research.Candidate
	Context   research.ResearchContext
	Params    research.ResearchParameters
	Attempt   int
}

// Assessor produces quality assessments. A scoring failure does not error;
// it degrades into a conservative default assessment so the orchestrator can
// still make a retry decision.
type Assessor interface {
	Assess(ctx context.Context, req *AssessRequest) (*research.QualityAssessment, error)
	Healthy(ctx context.Context) error
}

// weakCategoryFloor is the per-category score below which a category lands
// in the corrective instruction.
const weakCategoryFloor = 80.0

type assessor struct {
	scorer Scorer
	logger logging.Logger
}

// NewAssessor builds the quality gate on top of a scorer.
func NewAssessor(scorer Scorer, logger logging.Logger) (Assessor, error) {
	if scorer == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "scorer is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &assessor{scorer: scorer, logger: logger.Named("assessor")}, nil
}

func (a *assessor) Assess(ctx context.Context, req *AssessRequest) (*research.QualityAssessment, error) {
	if req == nil || req.Candidate == nil {
		return nil, errors.New(errors.ErrCodeValidation, "assess request needs a candidate")
	}

	out, err := a.scorer.Score(ctx, &ScoreRequest{
		Candidate: req.Candidate,
		Context:   req.Context,
		Attempt:   req.Attempt,
	})
	if err != nil {
		a.logger.Warn("scoring failed, degrading to default assessment",
			logging.String("correlation_id", string(req.Context.CorrelationID)),
			logging.Int("attempt", req.Attempt),
			logging.Err(err),
		)
		return DegradedAssessment(req.Attempt, err), nil
	}

	// Arithmetic breaches are caught here, not by the model: a reported
	// derived figure must reproduce from the candidate's own base figures.
	derived := ConsistencyIssues(req.Candidate)
	if len(derived) > 0 {
		a.logger.Warn("candidate figures failed consistency recompute",
			logging.String("correlation_id", string(req.Context.CorrelationID)),
			logging.Int("attempt", req.Attempt),
			logging.Int("breaches", len(derived)),
		)
	}

	assessment := &research.QualityAssessment{
		Attempt:              req.Attempt,
		OverallScore:         research.ComputeOverall(out.CategoryScores),
		CategoryScores:       out.CategoryScores,
		CriticalIssues:       append(out.CriticalIssues, derived...),
		SourceValidation:     out.SourceValidation,
		Confidence:           research.MinConfidence(out.CategoryScores),
		ImprovementPotential: out.ImprovementPotential,
		CreatedAt:            common.NewTimestamp(),
	}

	reasons := assessment.RetryReasonsAt(req.Params.QualityThreshold)
	assessment.ShouldRetry = len(reasons) > 0
	assessment.RetryPriority = research.PriorityFor(len(reasons), len(assessment.CriticalIssues))
	if assessment.ShouldRetry {
		assessment.CorrectiveInstruction = buildCorrectiveInstruction(assessment, reasons)
	}

	a.logger.Info("candidate assessed",
		logging.String("correlation_id", string(req.Context.CorrelationID)),
		logging.Int("attempt", req.Attempt),
		logging.Float64("overall", assessment.OverallScore),
		logging.Float64("confidence", assessment.Confidence),
		logging.Int("critical_issues", len(assessment.CriticalIssues)),
		logging.Bool("should_retry", assessment.ShouldRetry),
	)
	return assessment, nil
}

func (a *assessor) Healthy(ctx context.Context) error {
	return a.scorer.Healthy(ctx)
}

// ---------------------------------------------------------------------------
// Degraded assessment
// ---------------------------------------------------------------------------

// DegradedAssessment is the recovery path for a candidate that could not be
// scored, or generation output that could not be parsed: every category sits
// at 50, one critical system issue records the cause, and retry is indicated
// so attempts keep flowing while the budget lasts.
func DegradedAssessment(attempt int, cause error) *research.QualityAssessment {
	scores := make(map[research.QualityCategory]research.CategoryScore, 8)
	for _, c := range research.AllCategories() {
		scores[c] = research.CategoryScore{
			Score:      50,
			Confidence: 0.5,
			Reasoning:  "not scored: assessment degraded",
		}
	}

	desc := "scoring capability failed"
	if cause != nil {
		desc = cause.Error()
	}

	return &research.QualityAssessment{
		Attempt:        attempt,
		OverallScore:   50,
		CategoryScores: scores,
		CriticalIssues: []research.CriticalIssue{{
			Severity:     research.SeverityCritical,
			Category:     research.CategorySystem,
			Description:  desc,
			Impact:       "candidate quality is unknown; the document cannot be trusted as-is",
			SuggestedFix: "regenerate the candidate and re-score",
		}},
		Confidence:            0.5,
		ShouldRetry:           true,
		RetryPriority:         research.RetryPriorityHigh,
		CorrectiveInstruction: "The previous candidate could not be assessed. Regenerate it strictly following the output contract, with every quantitative claim cited.",
		ImprovementPotential:  10,
		CreatedAt:             common.NewTimestamp(),
	}
}

// ---------------------------------------------------------------------------
// Corrective instruction
// ---------------------------------------------------------------------------

// buildCorrectiveInstruction summarises what the next attempt must fix:
// weak categories, unresolved critical issues, and missing sources.
func buildCorrectiveInstruction(a *research.QualityAssessment, reasons []string) string {
	var b strings.Builder

	if weak := a.WeakCategories(weakCategoryFloor); len(weak) > 0 {
		parts := make([]string, 0, len(weak))
		for _, c := range weak {
			parts = append(parts, fmt.Sprintf("%s (%.0f)", categoryLabel(c), a.CategoryScores[c].Score))
		}
		fmt.Fprintf(&b, "Raise these quality categories: %s.\n", strings.Join(parts, ", "))
	}

	for _, issue := range a.CriticalIssues {
		fmt.Fprintf(&b, "Resolve critical issue in %s: %s", categoryLabel(issue.Category), issue.Description)
		if issue.SuggestedFix != "" {
			fmt.Fprintf(&b, " Fix: %s", issue.SuggestedFix)
		}
		b.WriteString("\n")
	}

	if missing := a.SourceValidation.MissingCriticalSources; len(missing) > 0 {
		fmt.Fprintf(&b, "Add these missing critical sources: %s.\n", strings.Join(missing, ", "))
	}
	if gaps := a.SourceValidation.SourceGaps; len(gaps) > 0 {
		fmt.Fprintf(&b, "Close these source gaps: %s.\n", strings.Join(gaps, ", "))
	}

	if b.Len() == 0 && len(reasons) > 0 {
		// Gates failed without category-level detail, e.g. low confidence only.
		fmt.Fprintf(&b, "Address: %s.\n", strings.Join(reasons, "; "))
	}

	return strings.TrimSpace(b.String())
}

func categoryLabel(c research.QualityCategory) string {
	return strings.ReplaceAll(string(c), "_", " ")
}

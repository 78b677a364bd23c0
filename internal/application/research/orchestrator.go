// Package research orchestrates the adaptive research loop: parameter
// selection, candidate generation, quality assessment, deal-level deep
// validation, and the retry policy binding them into one state machine. The
// application service in this package wraps the loop with caching, audit
// persistence, eventing, archival, and evidence indexing.
package research

import (
	"context"
	"strings"
	"time"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	prom "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/deep_verify"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/quality_gate"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/research_gpt"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// ---------------------------------------------------------------------------
// Orchestrator contract
// ---------------------------------------------------------------------------

// Request is one research run's input. Params overrides the context-derived
// parameters when non-nil; leaving it nil selects them from the context.
type Request struct {
	Context domainResearch.ResearchContext
	Params  *domainResearch.ResearchParameters
}

// Validate checks the request before any model call is spent on it.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Context.Target) == "" {
		return errors.New(errors.ErrCodeResearchContextInvalid, "research target is required")
	}
	if strings.TrimSpace(r.Context.Indication) == "" {
		return errors.New(errors.ErrCodeResearchContextInvalid, "indication is required")
	}
	return nil
}

// Orchestrator drives a research request through the attempt loop until a
// candidate clears the quality gate or the retry budget runs out. The
// best-scoring candidate seen across attempts is always retained, so an
// exhausted run still returns a usable, flagged result.
type Orchestrator interface {
	Run(ctx context.Context, req *Request) (*domainResearch.EngineResult, error)
	Healthy(ctx context.Context) error
}

// Config bounds the attempt loop.
type Config struct {
	// MaxRetryAttempts caps total generation invocations per run. Zero
	// selects the default.
	MaxRetryAttempts int
	// RetryDelay is the fixed pause between attempts. Zero pauses not at
	// all.
	RetryDelay time.Duration
	// QualityThreshold replaces the selector's baseline acceptance
	// threshold when positive. Context rules still adjust around it.
	QualityThreshold float64
	// MinSourceCount replaces the selector's baseline source floor when
	// positive.
	MinSourceCount int
}

const defaultMaxRetryAttempts = 3

// Deps wires the orchestrator's collaborators. Generator and Assessor are
// required; the rest degrade gracefully when absent.
type Deps struct {
	Generator research_gpt.Generator
	Assessor  quality_gate.Assessor
	// Verifier deep-validates deal records on full-depth runs and on
	// candidates that carry deal records. Without one those runs return no
	// validated deals.
	Verifier deep_verify.Verifier
	Metrics  *prom.AppMetrics
	Logger   logging.Logger
}

type orchestrator struct {
	cfg       Config
	generator research_gpt.Generator
	assessor  quality_gate.Assessor
	verifier  deep_verify.Verifier
	metrics   *prom.AppMetrics
	logger    logging.Logger
}

// NewOrchestrator validates the wiring and applies loop defaults.
func NewOrchestrator(cfg Config, deps Deps) (Orchestrator, error) {
	if deps.Generator == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "candidate generator is required")
	}
	if deps.Assessor == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "quality assessor is required")
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &orchestrator{
		cfg:       cfg,
		generator: deps.Generator,
		assessor:  deps.Assessor,
		verifier:  deps.Verifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("orchestrator"),
	}, nil
}

// ---------------------------------------------------------------------------
// Attempt loop
// ---------------------------------------------------------------------------

// attemptOutcome pairs a scoreable candidate with its verdict for best-of-N
// retention.
type attemptOutcome struct {
	candidate  *domainResearch.Candidate
	assessment *domainResearch.QualityAssessment
}

func (o *orchestrator) Run(ctx context.Context, req *Request) (*domainResearch.EngineResult, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeValidation, "research request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rc := req.Context
	if rc.CorrelationID == "" {
		rc.CorrelationID = common.NewCorrelationID()
	}

	base := domainResearch.DefaultParameters()
	if o.cfg.QualityThreshold > 0 {
		base.QualityThreshold = o.cfg.QualityThreshold
	}
	if o.cfg.MinSourceCount > 0 {
		base.MinSourceCount = o.cfg.MinSourceCount
	}
	params := domainResearch.SelectParametersFrom(base, rc)
	if req.Params != nil {
		params = *req.Params
	}

	log := o.logger.With(logging.String("correlation_id", string(rc.CorrelationID)))
	log.Info("research run starting",
		logging.String("target", rc.Target),
		logging.String("indication", rc.Indication),
		logging.String("phase", string(rc.Phase)),
		logging.Bool("full_depth", rc.FullDepth),
		logging.Float64("quality_threshold", params.QualityThreshold),
		logging.Int("max_attempts", o.cfg.MaxRetryAttempts),
	)

	var (
		start       = time.Now()
		run         = newRunMachine(log)
		reviews     = make([]domainResearch.AttemptReview, 0, o.cfg.MaxRetryAttempts)
		instruction string

		// best is the highest-scoring attempt that produced a candidate;
		// bestAssessment covers runs where no attempt ever did.
		best           *attemptOutcome
		bestAssessment *domainResearch.QualityAssessment
	)

	for attempt := 0; ; attempt++ {
		run.to(StateAttempting)
		attemptStart := time.Now()
		candidate, genErr := o.generate(ctx, rc, params, attempt, instruction)

		run.to(StateScoring)
		assessment := o.assess(ctx, rc, params, attempt, candidate, genErr)

		accepted := candidate != nil && assessment.AcceptedAt(params.QualityThreshold)
		reviews = append(reviews, domainResearch.AttemptReview{
			Attempt:        attempt,
			OverallScore:   assessment.OverallScore,
			Confidence:     assessment.Confidence,
			CriticalIssues: len(assessment.CriticalIssues),
			Accepted:       accepted,
			RetryReasons:   assessment.FailedAcceptanceGates(params.QualityThreshold),
			Duration:       time.Since(attemptStart),
		})
		o.recordAttempt(assessment, accepted)

		if bestAssessment == nil || assessment.OverallScore > bestAssessment.OverallScore {
			bestAssessment = assessment
		}
		if candidate != nil && (best == nil || assessment.OverallScore > best.assessment.OverallScore) {
			best = &attemptOutcome{candidate: candidate, assessment: assessment}
		}

		if accepted {
			run.to(StateAccepted)
			deals := o.validateDeals(ctx, rc, params, candidate)
			log.Info("research run accepted",
				logging.Int("attempt", attempt),
				logging.Float64("overall", assessment.OverallScore),
				logging.Float64("confidence", assessment.Confidence),
				logging.Int("deals_validated", len(deals)),
			)
			return assemble(rc, domainResearch.OutcomeAccepted, candidate, assessment, deals, reviews, start), nil
		}

		if attempt+1 >= o.cfg.MaxRetryAttempts {
			break
		}

		run.to(StateRetrying)
		instruction = assessment.CorrectiveInstruction
		prom.RecordRetry(o.metrics, retryReason(assessment, params.QualityThreshold))
		log.Debug("attempt rejected, retrying",
			logging.Int("attempt", attempt),
			logging.Float64("overall", assessment.OverallScore),
			logging.Duration("delay", o.cfg.RetryDelay),
		)
		if err := o.pause(ctx); err != nil {
			log.Warn("run cancelled between attempts", logging.Err(err))
			break
		}
	}

	run.to(StateExhausted)

	if best == nil {
		// No attempt ever yielded a scoreable candidate.
		log.Warn("research run failed without a scoreable candidate",
			logging.Int("attempts", len(reviews)),
		)
		return assemble(rc, domainResearch.OutcomeFailed, nil, bestAssessment, nil, reviews, start), nil
	}

	deals := o.validateDeals(ctx, rc, params, best.candidate)
	log.Info("research run exhausted, returning best effort",
		logging.Int("attempts", len(reviews)),
		logging.Float64("overall", best.assessment.OverallScore),
		logging.Int("deals_validated", len(deals)),
	)
	return assemble(rc, domainResearch.OutcomeExhausted, best.candidate, best.assessment, deals, reviews, start), nil
}

func (o *orchestrator) Healthy(ctx context.Context) error {
	if err := o.generator.Healthy(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeGenerationUnavailable, "generation backend")
	}
	if err := o.assessor.Healthy(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeScoringUnavailable, "scoring backend")
	}
	if o.verifier != nil {
		if err := o.verifier.Healthy(ctx); err != nil {
			return errors.Wrap(err, errors.ErrCodeValidationLayerFailed, "validation backend")
		}
	}
	return nil
}

// generate runs one generation invocation. Failures are logged and returned
// so the scoring step can degrade instead of aborting the attempt.
func (o *orchestrator) generate(ctx context.Context, rc domainResearch.ResearchContext, params domainResearch.ResearchParameters, attempt int, instruction string) (*domainResearch.Candidate, error) {
	out, err := o.generator.Generate(ctx, &research_gpt.GenerateRequest{
		Context:               rc,
		Params:                params,
		Attempt:               attempt,
		CorrectiveInstruction: instruction,
	})
	if err != nil {
		o.logger.Warn("generation attempt failed",
			logging.String("correlation_id", string(rc.CorrelationID)),
			logging.Int("attempt", attempt),
			logging.Err(err),
		)
		return nil, err
	}
	return out.Candidate, nil
}

// assess grades the candidate. A missing candidate or a scoring failure
// degrades to the default assessment, so the attempt loop always receives a
// verdict it can act on.
func (o *orchestrator) assess(ctx context.Context, rc domainResearch.ResearchContext, params domainResearch.ResearchParameters, attempt int, candidate *domainResearch.Candidate, genErr error) *domainResearch.QualityAssessment {
	if candidate == nil {
		return quality_gate.DegradedAssessment(attempt, genErr)
	}

	out, err := o.assessor.Assess(ctx, &quality_gate.AssessRequest{
		Candidate: candidate,
		Context:   rc,
		Params:    params,
		Attempt:   attempt,
	})
	if err != nil {
		o.logger.Warn("assessment failed, degrading",
			logging.String("correlation_id", string(rc.CorrelationID)),
			logging.Int("attempt", attempt),
			logging.Err(err),
		)
		return quality_gate.DegradedAssessment(attempt, err)
	}
	return out
}

// validateDeals runs deal-level deep validation when the run calls for it:
// an explicit full-depth request, or a candidate that carries deal records.
// Validation trouble narrows the result rather than failing the run.
func (o *orchestrator) validateDeals(ctx context.Context, rc domainResearch.ResearchContext, params domainResearch.ResearchParameters, candidate *domainResearch.Candidate) []domainResearch.DealResearchResult {
	if o.verifier == nil || candidate == nil {
		return nil
	}
	if !rc.FullDepth && len(candidate.Deals) == 0 {
		return nil
	}

	out, err := o.verifier.ValidateDeals(ctx, &deep_verify.ValidateRequest{
		Context: rc,
		Params:  params,
		Deals:   candidate.Deals,
	})
	if err != nil {
		o.logger.Warn("deal validation unavailable",
			logging.String("correlation_id", string(rc.CorrelationID)),
			logging.Err(err),
		)
		return nil
	}

	o.logger.Debug("deal validation finished",
		logging.String("correlation_id", string(rc.CorrelationID)),
		logging.Int("validated", len(out.Deals)),
		logging.Int("cycles", out.CyclesRun),
		logging.Int("discarded", out.Discarded),
		logging.Bool("early_stopped", out.EarlyStopped),
	)
	return out.Deals
}

// pause sleeps the fixed inter-attempt delay, returning early when the run
// is cancelled.
func (o *orchestrator) pause(ctx context.Context) error {
	if o.cfg.RetryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *orchestrator) recordAttempt(a *domainResearch.QualityAssessment, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	criticalByCategory := make(map[string]int, len(a.CriticalIssues))
	for _, issue := range a.CriticalIssues {
		criticalByCategory[string(issue.Category)]++
	}
	prom.RecordAssessment(o.metrics, outcome, a.OverallScore, a.Confidence, criticalByCategory)
	if o.metrics != nil {
		o.metrics.ResearchAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// assemble builds the caller-facing result. A nil candidate leaves the
// document zero-valued; a nil assessment can only happen on a zero-attempt
// run and leaves the verdict zero-valued.
func assemble(rc domainResearch.ResearchContext, outcome domainResearch.RunOutcome, candidate *domainResearch.Candidate, assessment *domainResearch.QualityAssessment, deals []domainResearch.DealResearchResult, reviews []domainResearch.AttemptReview, start time.Time) *domainResearch.EngineResult {
	res := &domainResearch.EngineResult{
		CorrelationID:  rc.CorrelationID,
		Outcome:        outcome,
		Deals:          deals,
		RetryCount:     len(reviews) - 1,
		Elapsed:        time.Since(start),
		BelowThreshold: outcome != domainResearch.OutcomeAccepted,
		Attempts:       reviews,
	}
	if candidate != nil {
		res.Document = *candidate
		res.SourceCount = candidate.SourceCount()
	}
	if assessment != nil {
		res.Assessment = *assessment
		res.OverallScore = assessment.OverallScore
	}
	return res
}

// retryReason reduces a rejected assessment to the stable label of its
// dominant acceptance gate, checked in gate-priority order. Source quality
// is the only gate that is not also a retry trigger, so it is the fallback.
func retryReason(a *domainResearch.QualityAssessment, threshold float64) string {
	switch {
	case len(a.CriticalIssues) > 0:
		return "critical_issues"
	case a.OverallScore < threshold*100:
		return "overall_score"
	case a.CategoryScores[domainResearch.CategorySourceCredibility].Score < domainResearch.GateMinSourceCredibility:
		return "source_credibility"
	case a.CategoryScores[domainResearch.CategoryReasoningDepth].Score < domainResearch.GateMinReasoningDepth:
		return "reasoning_depth"
	case a.Confidence < domainResearch.GateMinConfidence:
		return "confidence"
	default:
		return "source_quality"
	}
}

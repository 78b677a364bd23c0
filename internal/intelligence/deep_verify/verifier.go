// Package deep_verify implements escalating validation of deal research.
// Each cycle gathers candidate transactions at a narrower search
// specificity, scores every candidate through weighted fact-check, logic,
// and cross-reference layers against a rising acceptance bar, and keeps the
// best-scoring accepted set seen across cycles. A layer that fails scores
// zero for that candidate; it never aborts the cycle.
package deep_verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

const defaultCheckConcurrency = 4

// ValidateRequest carries one candidate document's deal records through
// deep validation.
type ValidateRequest struct {
	Context research.ResearchContext
	Params  research.ResearchParameters
	Deals   []research.DealRecord
}

// ValidateResult is the outcome of a full validation run.
type ValidateResult struct {
	// Deals is the best-scoring accepted set seen across cycles. It may be
	// empty: nothing surviving validation is a visible outcome, not an
	// error.
	Deals          []research.DealResearchResult
	CyclesRun      int
	EarlyStopped   bool
	FinalThreshold float64
	// Discarded counts candidates dropped before scoring for missing the
	// source minimum, totaled across cycles.
	Discarded int
}

// Verifier validates deal records through escalating research cycles.
type Verifier interface {
	ValidateDeals(ctx context.Context, req *ValidateRequest) (*ValidateResult, error)
	Healthy(ctx context.Context) error
}

// Config selects the verification model and bounds the check fan-out.
type Config struct {
	Model string
	// CheckConcurrency caps concurrent per-source and cross-database
	// checks. Zero selects the default.
	CheckConcurrency int
}

// Deps wires the verifier's collaborators. Backend is required; the rest
// degrade gracefully when absent.
type Deps struct {
	Backend common.ModelBackend
	// Researcher gathers fresh candidates each cycle. Without one the
	// verifier re-validates the provided deals under escalating strictness.
	Researcher DealResearcher
	// CrossRefs are the independent evidence databases. The model's own
	// knowledge is always appended as one more vote.
	CrossRefs  []CrossReferencer
	Population PopulationSource
	Logger     logging.Logger
}

type verifier struct {
	cfg        Config
	layers     *modelLayers
	researcher DealResearcher
	refs       []CrossReferencer
	population PopulationSource
	logger     logging.Logger
}

// NewVerifier validates the wiring and returns the deal verifier.
func NewVerifier(cfg Config, deps Deps) (Verifier, error) {
	if deps.Backend == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "deep verifier needs a model backend")
	}
	if cfg.Model == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "deep verifier needs a model name")
	}
	if cfg.CheckConcurrency <= 0 {
		cfg.CheckConcurrency = defaultCheckConcurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	layers := newModelLayers(deps.Backend, cfg.Model)
	refs := make([]CrossReferencer, 0, len(deps.CrossRefs)+1)
	refs = append(refs, deps.CrossRefs...)
	refs = append(refs, &modelCrossReferencer{layers: layers})

	return &verifier{
		cfg:        cfg,
		layers:     layers,
		researcher: deps.Researcher,
		refs:       refs,
		population: deps.Population,
		logger:     logger.Named("deep_verify"),
	}, nil
}

func (v *verifier) ValidateDeals(ctx context.Context, req *ValidateRequest) (*ValidateResult, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeValidation, "validate request is nil")
	}
	cycles := req.Params.MaxValidationCycles
	if cycles < 1 {
		cycles = 1
	}
	base := req.Params.BaseValidationThreshold
	if base <= 0 {
		base = StrictnessThreshold(0)
	}

	out := &ValidateResult{}
	var (
		best      []research.DealResearchResult
		bestScore float64
	)

	for attempt := 0; attempt < cycles; attempt++ {
		if ctx.Err() != nil {
			v.logger.Warn("validation interrupted, keeping best set so far",
				logging.String("correlation_id", string(req.Context.CorrelationID)),
				logging.Int("cycles_run", out.CyclesRun),
			)
			break
		}
		out.CyclesRun = attempt + 1
		out.FinalThreshold = StrictnessThreshold(attempt)
		tier := SpecificityForAttempt(attempt)

		candidates := v.gatherCandidates(ctx, req, tier, attempt)
		kept, discarded := splitBySourceMinimum(candidates, req.Params.MinSourceCount)
		out.Discarded += discarded

		var accepted []research.DealResearchResult
		for _, deal := range kept {
			if res, ok := v.validateOne(ctx, deal, req, attempt); ok {
				accepted = append(accepted, res)
			}
		}

		v.logger.Debug("validation cycle complete",
			logging.String("correlation_id", string(req.Context.CorrelationID)),
			logging.String("specificity", string(tier)),
			logging.Int("cycle", attempt),
			logging.Float64("threshold", out.FinalThreshold),
			logging.Int("candidates", len(candidates)),
			logging.Int("discarded", discarded),
			logging.Int("accepted", len(accepted)),
		)

		if score := setScore(accepted); attempt == 0 || score > bestScore {
			best = accepted
			bestScore = score
		}
		if len(accepted) >= earlyStopMinAccepted && meanScore(accepted) >= base {
			out.EarlyStopped = true
			break
		}
	}

	out.Deals = best
	v.logger.Info("deal validation finished",
		logging.String("correlation_id", string(req.Context.CorrelationID)),
		logging.Int("cycles_run", out.CyclesRun),
		logging.Int("validated", len(out.Deals)),
		logging.Int("discarded", out.Discarded),
		logging.Bool("early_stop", out.EarlyStopped),
		logging.Float64("final_threshold", out.FinalThreshold),
	)
	return out, nil
}

func (v *verifier) Healthy(ctx context.Context) error {
	return v.layers.backend.Healthy(ctx)
}

// gatherCandidates merges the request's deals with the cycle's research
// round. A failed round narrows the pool instead of failing the cycle.
func (v *verifier) gatherCandidates(ctx context.Context, req *ValidateRequest, tier SpecificityTier, attempt int) []research.DealRecord {
	if v.researcher == nil {
		return req.Deals
	}
	extra, err := v.researcher.ResearchDeals(ctx, DealQuery{
		Context:     req.Context,
		Specificity: tier,
		Attempt:     attempt,
		MinSources:  req.Params.MinSourceCount,
	})
	if err != nil {
		v.logger.Warn("deal research round failed, validating existing candidates",
			logging.String("correlation_id", string(req.Context.CorrelationID)),
			logging.String("specificity", string(tier)),
			logging.Err(err),
		)
		return req.Deals
	}
	return mergeDeals(req.Deals, extra)
}

// validateOne scores a candidate through the three layers and reports
// whether it clears the cycle's bar. Accepted candidates are then enriched
// with source and cross-database bonuses plus population data.
func (v *verifier) validateOne(ctx context.Context, deal research.DealRecord, req *ValidateRequest, attempt int) (research.DealResearchResult, bool) {
	fact := v.runLayer(ctx, "fact_check", req.Context, func() (research.ValidationResult, error) {
		return v.layers.FactCheck(ctx, deal, req.Context)
	})
	logic := v.runLayer(ctx, "logic", req.Context, func() (research.ValidationResult, error) {
		return v.layers.LogicCheck(ctx, deal, req.Context)
	})
	cross, agreeing := v.crossReference(ctx, deal)

	res := research.DealResearchResult{
		Acquirer:        deal.Acquirer,
		Asset:           deal.Asset,
		Indication:      deal.Indication,
		Rationale:       deal.Rationale,
		AnnouncedDate:   deal.AnnouncedDate,
		ValueUSD:        deal.ValueUSD,
		Stage:           deal.Stage,
		Sources:         deal.Sources,
		ValidationScore: factCheckWeight*fact.Score + logicWeight*logic.Score + crossRefWeight*cross.Score,
		ValidationNotes: layerNotes(fact, logic, cross),
	}
	if res.ValidationScore < StrictnessThreshold(attempt) {
		return res, false
	}

	v.enrich(ctx, &res, req, agreeing)
	return res, true
}

// runLayer converts a layer failure into a zero-score result so one flaky
// call costs the candidate that layer's weight, nothing more.
func (v *verifier) runLayer(ctx context.Context, layer string, rc research.ResearchContext, call func() (research.ValidationResult, error)) research.ValidationResult {
	out, err := call()
	if err != nil {
		wrapped := errors.Wrap(err, errors.ErrCodeValidationLayerFailed, layer+" layer failed")
		v.logger.Warn("validation layer failed, scoring it zero",
			logging.String("correlation_id", string(rc.CorrelationID)),
			logging.String("layer", layer),
			logging.Err(wrapped),
		)
		return research.FailedValidation(fmt.Sprintf("%s layer unavailable: %v", layer, err))
	}
	return out
}

// crossReference polls every wired database plus the model's knowledge vote
// and averages those that answered. The agreeing count feeds the
// cross-database bonus.
func (v *verifier) crossReference(ctx context.Context, deal research.DealRecord) (research.ValidationResult, int) {
	fan, _ := common.Fanout(ctx, v.refs, common.FanoutOptions{Concurrency: v.cfg.CheckConcurrency},
		func(ctx context.Context, ref CrossReferencer) (research.ValidationResult, error) {
			return ref.CrossReference(ctx, deal)
		})

	var (
		sum      float64
		answered int
		agreeing int
		issues   []string
	)
	for i, item := range fan.Results {
		if item.Err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", v.refs[i].Name(), item.Err))
			continue
		}
		answered++
		sum += item.Result.Score
		if item.Result.IsValid {
			agreeing++
		}
		issues = append(issues, item.Result.Issues...)
	}
	if answered == 0 {
		v.logger.Warn("no cross-reference database answered",
			logging.String("acquirer", deal.Acquirer),
			logging.String("asset", deal.Asset),
			logging.Err(errors.New(errors.ErrCodeCrossReferenceUnavailable, "all cross-reference votes failed")),
		)
		return research.FailedValidation("no cross-reference database answered"), 0
	}

	return research.ValidationResult{
		IsValid:    agreeing > 0,
		Score:      sum / float64(answered),
		Issues:     issues,
		Confidence: float64(answered) / float64(len(v.refs)),
	}, agreeing
}

// enrich applies the post-acceptance bonuses and attaches population data.
func (v *verifier) enrich(ctx context.Context, res *research.DealResearchResult, req *ValidateRequest, agreeing int) {
	if v.checkSources(ctx, res, req.Params.MinSourceCount) {
		res.ValidationScore = clamp(res.ValidationScore+perSourceBonus, 0, 100)
		res.ValidationNotes = append(res.ValidationNotes, "per-source validation passed")
	}
	if agreeing >= crossDatabaseMinAgree {
		res.ValidationScore = clamp(res.ValidationScore+crossDatabaseBonus, 0, 100)
		res.ValidationNotes = append(res.ValidationNotes,
			fmt.Sprintf("cross-database verification: %d databases agree", agreeing))
	}
	v.attachPopulation(ctx, res, req)
}

// checkSources verifies each citation individually. The bonus requires at
// least 80% of sources valid and no fewer valid sources than the configured
// minimum.
func (v *verifier) checkSources(ctx context.Context, res *research.DealResearchResult, minSources int) bool {
	if len(res.Sources) == 0 {
		return false
	}
	fan, err := common.Fanout(ctx, res.Sources, common.FanoutOptions{Concurrency: v.cfg.CheckConcurrency},
		func(ctx context.Context, src research.Source) (bool, error) {
			return v.layers.CheckSource(ctx, src)
		})
	if err != nil {
		return false
	}

	valid := 0
	for _, item := range fan.Results {
		if item.Err == nil && item.Result {
			valid++
		}
	}
	if float64(valid)/float64(len(res.Sources)) >= sourceValidFraction && valid >= minSources {
		return true
	}
	res.ValidationNotes = append(res.ValidationNotes,
		fmt.Sprintf("per-source validation failed: %d of %d sources verified", valid, len(res.Sources)))
	return false
}

func (v *verifier) attachPopulation(ctx context.Context, res *research.DealResearchResult, req *ValidateRequest) {
	if v.population == nil || res.Indication == "" {
		return
	}
	pop, err := v.population.LookupPopulation(ctx, res.Indication, req.Context.Geography.Region)
	if err != nil {
		v.logger.Debug("population enrichment skipped",
			logging.String("indication", res.Indication),
			logging.Err(errors.Wrap(err, errors.ErrCodePopulationDataUnavailable, "population lookup failed")),
		)
		return
	}
	res.Population = pop
}

// ─────────────────────────────────────────────────────────────────────────────
// Set helpers
// ─────────────────────────────────────────────────────────────────────────────

// splitBySourceMinimum drops candidates below the source floor before any
// scoring spend.
func splitBySourceMinimum(candidates []research.DealRecord, min int) ([]research.DealRecord, int) {
	if min <= 0 {
		return candidates, 0
	}
	kept := make([]research.DealRecord, 0, len(candidates))
	discarded := 0
	for _, d := range candidates {
		if len(d.Sources) < min {
			discarded++
			continue
		}
		kept = append(kept, d)
	}
	return kept, discarded
}

// layerNotes flattens the layers' issues into the retained record, each
// prefixed by the layer that raised it.
func layerNotes(fact, logic, cross research.ValidationResult) []string {
	var notes []string
	for _, issue := range fact.Issues {
		notes = append(notes, "fact: "+issue)
	}
	for _, issue := range logic.Issues {
		notes = append(notes, "logic: "+issue)
	}
	for _, issue := range cross.Issues {
		notes = append(notes, "cross: "+issue)
	}
	return notes
}

// mergeDeals combines the provided deals with a research round's output,
// deduplicating by acquirer and asset.
func mergeDeals(base, extra []research.DealRecord) []research.DealRecord {
	out := make([]research.DealRecord, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, set := range [][]research.DealRecord{base, extra} {
		for _, d := range set {
			key := dealKey(d)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func dealKey(d research.DealRecord) string {
	return strings.ToLower(strings.TrimSpace(d.Acquirer)) + "|" + strings.ToLower(strings.TrimSpace(d.Asset))
}

// setScore ranks one cycle's accepted set. Summing entry scores rewards
// both count and quality, so four 92s beat two 95s.
func setScore(set []research.DealResearchResult) float64 {
	var sum float64
	for _, d := range set {
		sum += d.ValidationScore
	}
	return sum
}

func meanScore(set []research.DealResearchResult) float64 {
	if len(set) == 0 {
		return 0
	}
	return setScore(set) / float64(len(set))
}

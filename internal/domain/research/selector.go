package research

// Default tuning applied before any context-specific rule fires. Values are
// deliberately centralised here so the selector stays a pure function over
// (defaults, context).
const (
	defaultQualityThreshold    = 0.85
	defaultMaxValidationCycles = 3
	defaultMaxFieldRetries     = 2
	defaultQueriesPerSearch    = 3
	defaultCostCeilingUSD      = 25.0
	defaultMinSourceCount      = 3
	defaultBaseValidation      = 90.0

	// Clamp bounds for the phase-adjusted quality threshold.
	minQualityThreshold = 0.50
	maxQualityThreshold = 0.98

	// Context scores at or above this 0-10 level trigger escalation rules.
	escalationScore = 8
)

// defaultFieldRules returns a fresh per-field rule map so callers can scale
// it without aliasing.
func defaultFieldRules() map[FieldName]FieldRule {
	return map[FieldName]FieldRule{
		FieldMarketSize:      {MinScore: 75},
		FieldPeakRevenue:     {MinScore: 75},
		FieldCAGR:            {MinScore: 70},
		FieldPatientPool:     {MinScore: 70},
		FieldPricingScenario: {MinScore: 65},
	}
}

// DefaultParameters returns the fixed baseline configuration every request
// starts from.
func DefaultParameters() ResearchParameters {
	return ResearchParameters{
		QualityThreshold:        defaultQualityThreshold,
		Strictness:              StrictnessHigh,
		MaxValidationCycles:     defaultMaxValidationCycles,
		MaxFieldRetries:         defaultMaxFieldRetries,
		SearchDepth:             SearchDepthStandard,
		QueriesPerSearch:        defaultQueriesPerSearch,
		ContextSize:             ContextSizeStandard,
		ReasoningEffort:         ReasoningStandard,
		CostCeilingUSD:          defaultCostCeilingUSD,
		MinSourceCount:          defaultMinSourceCount,
		BaseValidationThreshold: defaultBaseValidation,
		FieldRules:              defaultFieldRules(),
	}
}

// SelectParameters derives the per-request configuration from a research
// context. It is pure and deterministic: the same context always yields the
// same parameters, no I/O is performed, and unknown context values fall back
// to the baseline instead of erroring.
//
// Rules:
//   - competitor-analysis depth >= 8 widens search to comprehensive and adds
//     queries per search
//   - regulatory complexity >= 8 raises strictness to ultra and adds
//     validation cycles
//   - preclinical assets get a lower quality threshold (less evidence
//     exists), approved assets a higher one
//   - market-access complexity >= 8 enlarges the generation context and
//     flags every numeric field for regeneration on failure
//   - per-field minimum scores are scaled by the phase multiplier
//     (0.8 preclinical, 1.1 approved)
func SelectParameters(ctx ResearchContext) ResearchParameters {
	return SelectParametersFrom(DefaultParameters(), ctx)
}

// SelectParametersFrom applies the same context rules starting from an
// operator-supplied baseline instead of the built-in defaults. The base is
// never mutated; its field rules are cloned before scaling. An empty rule map
// falls back to the defaults.
func SelectParametersFrom(base ResearchParameters, ctx ResearchContext) ResearchParameters {
	p := base

	rules := make(map[FieldName]FieldRule, len(base.FieldRules))
	for name, rule := range base.FieldRules {
		rules[name] = rule
	}
	if len(rules) == 0 {
		rules = defaultFieldRules()
	}
	p.FieldRules = rules

	if ctx.TherapeuticArea.CompetitorDepth >= escalationScore {
		p.SearchDepth = SearchDepthComprehensive
		p.QueriesPerSearch += 2
	}

	if ctx.TherapeuticArea.RegulatoryComplexity >= escalationScore {
		p.Strictness = StrictnessUltra
		p.MaxValidationCycles += 2
	}

	switch ctx.Phase {
	case PhasePreclinical:
		p.QualityThreshold -= 0.05
	case PhaseApproved:
		p.QualityThreshold += 0.05
	}
	p.QualityThreshold = clamp(p.QualityThreshold, minQualityThreshold, maxQualityThreshold)

	if ctx.Geography.MarketAccessComplexity >= escalationScore {
		p.ContextSize = ContextSizeLarge
		for name, rule := range p.FieldRules {
			rule.Regenerate = true
			p.FieldRules[name] = rule
		}
	}

	if ctx.FullDepth {
		p.ReasoningEffort = ReasoningDeep
	}

	multiplier := phaseMultiplier(ctx.Phase)
	for name, rule := range p.FieldRules {
		rule.MinScore = clamp(rule.MinScore*multiplier, 0, 100)
		p.FieldRules[name] = rule
	}

	return p
}

// phaseMultiplier scales field-level thresholds by development phase.
// Unknown and mid-stage phases are neutral.
func phaseMultiplier(phase DevelopmentPhase) float64 {
	switch phase {
	case PhasePreclinical:
		return 0.8
	case PhaseApproved:
		return 1.1
	default:
		return 1.0
	}
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

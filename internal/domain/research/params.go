package research

// ─────────────────────────────────────────────────────────────────────────────
// Tier enums
// ─────────────────────────────────────────────────────────────────────────────

// StrictnessTier grades how aggressively validation rejects weak evidence.
type StrictnessTier string

const (
	StrictnessLow    StrictnessTier = "low"
	StrictnessMedium StrictnessTier = "medium"
	StrictnessHigh   StrictnessTier = "high"
	StrictnessUltra  StrictnessTier = "ultra"
)

// SearchDepth grades how widely evidence retrieval fans out per query.
type SearchDepth string

const (
	SearchDepthStandard      SearchDepth = "standard"
	SearchDepthComprehensive SearchDepth = "comprehensive"
)

// ContextSize grades how much retrieved material is packed into a single
// generation call.
type ContextSize string

const (
	ContextSizeStandard ContextSize = "standard"
	ContextSizeLarge    ContextSize = "large"
)

// ReasoningEffort grades how much chain-of-analysis work is requested from
// the generation capability.
type ReasoningEffort string

const (
	ReasoningStandard ReasoningEffort = "standard"
	ReasoningDeep     ReasoningEffort = "deep"
)

// ─────────────────────────────────────────────────────────────────────────────
// Field rules
// ─────────────────────────────────────────────────────────────────────────────

// FieldName identifies a numeric candidate field carrying its own validation
// threshold.
type FieldName string

const (
	FieldMarketSize      FieldName = "market_size"
	FieldPeakRevenue     FieldName = "peak_revenue"
	FieldCAGR            FieldName = "cagr"
	FieldPatientPool     FieldName = "patient_pool"
	FieldPricingScenario FieldName = "pricing_scenario"
)

// FieldRule sets the per-field acceptance floor and whether a failing field
// forces regeneration of the whole candidate instead of local correction.
type FieldRule struct {
	MinScore   float64 `json:"min_score"`
	Regenerate bool    `json:"regenerate"`
}

// ─────────────────────────────────────────────────────────────────────────────
// ResearchParameters
// ─────────────────────────────────────────────────────────────────────────────

// ResearchParameters is the engine configuration derived from one
// ResearchContext. It is produced exactly once per request by
// SelectParameters and is read-only thereafter; the orchestrator and
// validators consume it but never write it.
type ResearchParameters struct {
	QualityThreshold    float64         `json:"quality_threshold"` // 0-1
	Strictness          StrictnessTier  `json:"strictness"`
	MaxValidationCycles int             `json:"max_validation_cycles"`
	MaxFieldRetries     int             `json:"max_field_retries"`
	SearchDepth         SearchDepth     `json:"search_depth"`
	QueriesPerSearch    int             `json:"queries_per_search"`
	ContextSize         ContextSize     `json:"context_size"`
	ReasoningEffort     ReasoningEffort `json:"reasoning_effort"`
	CostCeilingUSD      float64         `json:"cost_ceiling_usd"`

	// MinSourceCount is the floor below which an itemized record is
	// discarded before scoring.
	MinSourceCount int `json:"min_source_count"`

	// BaseValidationThreshold anchors the deep validator's escalating
	// acceptance bar and its early-stop check.
	BaseValidationThreshold float64 `json:"base_validation_threshold"`

	// FieldRules maps numeric candidate fields to their acceptance floors,
	// already scaled by the development-phase multiplier.
	FieldRules map[FieldName]FieldRule `json:"field_rules"`
}

// FieldRule returns the rule for a field, falling back to a permissive
// zero-floor rule for fields without one.
func (p ResearchParameters) FieldRule(name FieldName) FieldRule {
	if r, ok := p.FieldRules[name]; ok {
		return r
	}
	return FieldRule{}
}

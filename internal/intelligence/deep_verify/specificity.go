package deep_verify

// SpecificityTier grades how narrowly a research query is phrased. Early
// cycles cast a wide net; later cycles demand named counterparties, exact
// dates, and primary disclosures.
type SpecificityTier string

const (
	SpecificityBroad        SpecificityTier = "broad"
	SpecificityModerate     SpecificityTier = "moderate"
	SpecificitySpecific     SpecificityTier = "specific"
	SpecificityVerySpecific SpecificityTier = "very_specific"
	SpecificityUltra        SpecificityTier = "ultra_specific"
)

// specificityLadder orders the tiers walked as cycles escalate.
var specificityLadder = []SpecificityTier{
	SpecificityBroad,
	SpecificityModerate,
	SpecificitySpecific,
	SpecificityVerySpecific,
	SpecificityUltra,
}

// SpecificityForAttempt maps a zero-based validation cycle to its search
// tier. Cycles past the end of the ladder stay at the narrowest tier.
func SpecificityForAttempt(attempt int) SpecificityTier {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(specificityLadder) {
		attempt = len(specificityLadder) - 1
	}
	return specificityLadder[attempt]
}

// Guidance returns the search-phrasing instruction injected into research
// prompts at this tier.
func (s SpecificityTier) Guidance() string {
	switch s {
	case SpecificityModerate:
		return "Search for transactions in the same therapeutic area and modality; include licensing and co-development deals."
	case SpecificitySpecific:
		return "Search for transactions against the same target or mechanism of action, citing the announcement year and headline value."
	case SpecificityVerySpecific:
		return "Search for transactions naming both counterparties, the asset, the development stage at signing, and the split of upfront versus milestone payments."
	case SpecificityUltra:
		return "Search only primary disclosures such as press releases, SEC filings, and earnings transcripts, quoting the exact announcement date, counterparties, and dollar figures."
	default:
		return "Search broadly for comparable transactions in the indication, without restricting to target or modality."
	}
}

// Validation layer weights. Fact checking dominates: a logically tidy deal
// built on wrong numbers is worth less than a clumsy one built on right
// ones.
const (
	factCheckWeight = 0.5
	logicWeight     = 0.3
	crossRefWeight  = 0.2
)

// Post-acceptance bonuses and their qualification bars. Bonuses rank
// accepted entries; they never rescue one from below the threshold.
const (
	perSourceBonus        = 2.0
	crossDatabaseBonus    = 1.5
	sourceValidFraction   = 0.8
	crossDatabaseMinAgree = 2
)

// earlyStopMinAccepted is the smallest accepted set that can end validation
// before the cycle budget is spent.
const earlyStopMinAccepted = 2

// StrictnessThreshold is the acceptance bar for a validation cycle. It
// starts at 90 and climbs two points per cycle, capped at 98: a candidate
// that needed many research rounds has to clear a higher bar, not a lower
// one.
func StrictnessThreshold(attempt int) float64 {
	if attempt < 0 {
		attempt = 0
	}
	t := 90.0 + 2.0*float64(attempt)
	if t > 98 {
		return 98
	}
	return t
}

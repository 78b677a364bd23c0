package research

import "strings"

// ─────────────────────────────────────────────────────────────────────────────
// Sources
// ─────────────────────────────────────────────────────────────────────────────

// SourceType classifies where a citation comes from.
type SourceType string

const (
	SourcePrimary   SourceType = "primary"   // filings, trial registries, label text
	SourceSecondary SourceType = "secondary" // analyst reports, press, reviews
	SourceDatabase  SourceType = "database"  // curated commercial databases
	SourceAcademic  SourceType = "academic"  // peer-reviewed literature
)

// Source is one citation backing a claim inside a candidate.
type Source struct {
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Type      SourceType `json:"type"`
	Year      int        `json:"year"`
	Authority string     `json:"authority"` // publisher or database name
}

// IsRecent reports whether the source is at most three years old relative to
// the given year.
func (s Source) IsRecent(currentYear int) bool {
	return s.Year > 0 && s.Year >= currentYear-3
}

// ─────────────────────────────────────────────────────────────────────────────
// Candidate document tree
// ─────────────────────────────────────────────────────────────────────────────

// MarketFigures holds the headline commercial numbers of a candidate along
// with the base figures they were derived from, so validators can recompute
// the derived ones.
type MarketFigures struct {
	CurrentMarketUSD     float64  `json:"current_market_usd"`
	PeakRevenueUSD       float64  `json:"peak_revenue_usd"`
	YearsToPeak          float64  `json:"years_to_peak"`
	ReportedCAGR         float64  `json:"reported_cagr"` // fraction, not percent
	AvgAnnualPriceUSD    float64  `json:"avg_annual_price_usd"`
	PersistenceRate      float64  `json:"persistence_rate"`
	ReportedPeakPatients float64  `json:"reported_peak_patients"`
	Sources              []Source `json:"sources,omitempty"`
}

// CompetitorRecord describes one competing asset.
type CompetitorRecord struct {
	Company    string           `json:"company"`
	Asset      string           `json:"asset"`
	Mechanism  string           `json:"mechanism"`
	Phase      DevelopmentPhase `json:"phase"`
	SameTarget bool             `json:"same_target"`
	Sources    []Source         `json:"sources,omitempty"`
}

// DealRecord is one comparable-transaction entry as generated, before deep
// validation. Validated entries become DealResearchResult values.
type DealRecord struct {
	Acquirer      string           `json:"acquirer"`
	Asset         string           `json:"asset"`
	Indication    string           `json:"indication"`
	Rationale     string           `json:"rationale"`
	AnnouncedDate string           `json:"announced_date"` // ISO-8601 date as generated
	ValueUSD      float64          `json:"value_usd"`
	Stage         DevelopmentPhase `json:"stage"`
	Sources       []Source         `json:"sources,omitempty"`
}

// PricingScenario describes one priced market-access outcome.
type PricingScenario struct {
	Geography      string   `json:"geography"`
	AnnualPriceUSD float64  `json:"annual_price_usd"`
	AccessTier     string   `json:"access_tier"`
	Rationale      string   `json:"rationale"`
	Sources        []Source `json:"sources,omitempty"`
}

// RegulatoryIncentive describes one applicable regulatory program.
type RegulatoryIncentive struct {
	Program    string   `json:"program"`
	Region     string   `json:"region"`
	Impact     string   `json:"impact"`
	ExpiryYear int      `json:"expiry_year"`
	Sources    []Source `json:"sources,omitempty"`
}

// StrategicFitScores holds the candidate's strategy-alignment sub-scores,
// each in [0, 1]. Vector exposes them in a fixed order for cosine
// comparison against a buyer profile.
type StrategicFitScores struct {
	PortfolioSynergy float64 `json:"portfolio_synergy"`
	TherapeuticFocus float64 `json:"therapeutic_focus"`
	CommercialReach  float64 `json:"commercial_reach"`
	PipelineGap      float64 `json:"pipeline_gap"`
}

// Vector returns the sub-scores in declaration order.
func (s StrategicFitScores) Vector() []float64 {
	return []float64{s.PortfolioSynergy, s.TherapeuticFocus, s.CommercialReach, s.PipelineGap}
}

// Candidate is one generation attempt's structured output. Candidates are
// ephemeral: they exist within a single attempt and only the accepted (or
// best-effort) one survives into the engine result.
type Candidate struct {
	Summary      string                `json:"summary"`
	Market       MarketFigures         `json:"market"`
	Competitors  []CompetitorRecord    `json:"competitors,omitempty"`
	Deals        []DealRecord          `json:"deals,omitempty"`
	Pricing      []PricingScenario     `json:"pricing,omitempty"`
	Incentives   []RegulatoryIncentive `json:"incentives,omitempty"`
	StrategicFit StrategicFitScores    `json:"strategic_fit"`
	Sources      []Source              `json:"sources,omitempty"`
}

// AllSources returns every source cited anywhere in the candidate,
// de-duplicated by URL (falling back to title when the URL is empty).
func (c Candidate) AllSources() []Source {
	seen := make(map[string]struct{})
	var out []Source

	add := func(sources []Source) {
		for _, s := range sources {
			key := strings.ToLower(s.URL)
			if key == "" {
				key = strings.ToLower(s.Title)
			}
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}

	add(c.Sources)
	add(c.Market.Sources)
	for _, r := range c.Competitors {
		add(r.Sources)
	}
	for _, d := range c.Deals {
		add(d.Sources)
	}
	for _, p := range c.Pricing {
		add(p.Sources)
	}
	for _, i := range c.Incentives {
		add(i.Sources)
	}
	return out
}

// SourceCount returns the number of distinct sources cited in the candidate.
func (c Candidate) SourceCount() int {
	return len(c.AllSources())
}

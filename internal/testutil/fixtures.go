package testutil

import (
	"time"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// SampleContext returns a realistic phase-2 oncology request. Tests that
// need a different shape mutate the returned value before use.
func SampleContext() research.ResearchContext {
	return research.ResearchContext{
		CorrelationID: common.CorrelationID("test-corr-0001"),
		Target:        "KRAS G12C",
		Indication:    "non-small cell lung cancer",
		TherapeuticArea: research.TherapeuticAreaProfile{
			Name:                 "oncology",
			CompetitorDepth:      7,
			RegulatoryComplexity: 6,
			ScientificMaturity:   8,
		},
		Geography: research.GeographyProfile{
			Region:                 "US",
			MarketAccessComplexity: 5,
			PricingTransparency:    6,
		},
		Phase: research.PhaseTwo,
	}
}

// SampleSources returns n distinct citations, cycling through the source
// types so coverage counters see a mixed set.
func SampleSources(n int) []research.Source {
	types := []research.SourceType{
		research.SourcePrimary,
		research.SourceDatabase,
		research.SourceSecondary,
		research.SourceAcademic,
	}
	out := make([]research.Source, n)
	for i := range out {
		out[i] = research.Source{
			Title:     "Citation " + string(rune('A'+i)),
			URL:       "https://example.org/src/" + string(rune('a'+i)),
			Type:      types[i%len(types)],
			Year:      2024,
			Authority: "Example Registry",
		}
	}
	return out
}

// SampleCandidate returns an internally consistent candidate document: the
// reported CAGR and peak-patient figures match what the calculators derive
// from the base figures, so consistency checks pass.
func SampleCandidate() research.Candidate {
	return research.Candidate{
		Summary: "KRAS G12C inhibitor commercial assessment for NSCLC.",
		Market: research.MarketFigures{
			CurrentMarketUSD:     500_000_000,
			PeakRevenueUSD:       2_000_000_000,
			YearsToPeak:          5,
			ReportedCAGR:         0.3195,
			AvgAnnualPriceUSD:    45_000,
			PersistenceRate:      0.75,
			ReportedPeakPatients: 33_333,
			Sources:              SampleSources(3),
		},
		Competitors: []research.CompetitorRecord{
			{Company: "Amgen", Asset: "sotorasib", Mechanism: "KRAS G12C inhibitor", Phase: research.PhaseApproved, SameTarget: true},
		},
		Deals:   []research.DealRecord{SampleDeal()},
		Sources: SampleSources(4),
		StrategicFit: research.StrategicFitScores{
			PortfolioSynergy: 0.8,
			TherapeuticFocus: 0.9,
			CommercialReach:  0.7,
			PipelineGap:      0.6,
		},
	}
}

// SampleDeal returns one deal record with enough sources to clear the
// default minimum of three.
func SampleDeal() research.DealRecord {
	return research.DealRecord{
		Acquirer:      "Mirati Therapeutics",
		Asset:         "adagrasib",
		Indication:    "non-small cell lung cancer",
		Rationale:     "pipeline consolidation around KRAS",
		AnnouncedDate: "2023-10-08",
		ValueUSD:      4_800_000_000,
		Stage:         research.PhaseApproved,
		Sources:       SampleSources(3),
	}
}

// PassingAssessment returns an assessment that clears every acceptance gate
// at the given threshold: high category scores, high confidence, no
// critical issues.
func PassingAssessment(attempt int) research.QualityAssessment {
	scores := make(map[research.QualityCategory]research.CategoryScore)
	for _, c := range research.AllCategories() {
		scores[c] = research.CategoryScore{Score: 90, Confidence: 0.9, Reasoning: "consistent with cited sources"}
	}
	return research.QualityAssessment{
		Attempt:        attempt,
		OverallScore:   research.ComputeOverall(scores),
		CategoryScores: scores,
		SourceValidation: research.SourceValidation{
			TotalSources:         7,
			ValidSources:         7,
			PrimarySources:       3,
			RecentSources:        6,
			AuthoritativeSources: 5,
			SourceQualityScore:   88,
		},
		Confidence: 0.9,
		CreatedAt:  common.NewTimestamp(),
	}
}

// AcceptedResult returns a terminal accepted engine result for the sample
// context, suitable for driving persistence and side-channel adapters.
func AcceptedResult(rc research.ResearchContext) *research.EngineResult {
	doc := SampleCandidate()
	assessment := PassingAssessment(0)
	return &research.EngineResult{
		CorrelationID: rc.CorrelationID,
		Outcome:       research.OutcomeAccepted,
		Document:      doc,
		Assessment:    assessment,
		Deals: []research.DealResearchResult{
			{
				Acquirer:        "Mirati Therapeutics",
				Asset:           "adagrasib",
				Indication:      "non-small cell lung cancer",
				Rationale:       "pipeline consolidation around KRAS",
				AnnouncedDate:   "2023-10-08",
				ValueUSD:        4_800_000_000,
				Stage:           research.PhaseApproved,
				Sources:         SampleSources(3),
				ValidationScore: 93.5,
			},
		},
		OverallScore: assessment.OverallScore,
		RetryCount:   0,
		Elapsed:      1500 * time.Millisecond,
		SourceCount:  len(doc.AllSources()),
		Attempts: []research.AttemptReview{
			{Attempt: 0, OverallScore: assessment.OverallScore, Confidence: 0.9, Accepted: true, Duration: 1500 * time.Millisecond},
		},
	}
}

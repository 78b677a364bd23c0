package quality_gate

import (
	"fmt"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/market"
	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
)

// Reported derived figures rarely match a recompute to the digit because
// filings round. Five percent relative slack separates rounding from
// fabrication.
const figureTolerance = 0.05

// ConsistencyIssues replays the deterministic market calculators against the
// figures a candidate reports and returns one critical issue per breach. The
// model score cannot be trusted with arithmetic: a reported CAGR that does
// not reproduce from the candidate's own base figures is fabricated no matter
// how plausible the prose reads.
func ConsistencyIssues(c *research.Candidate) []research.CriticalIssue {
	if c == nil {
		return nil
	}

	var issues []research.CriticalIssue
	issues = append(issues, magnitudeIssues(c.Market)...)
	if issue := cagrIssue(c.Market); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := peakPatientIssue(c.Market); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := fitRangeIssue(c.StrategicFit); issue != nil {
		issues = append(issues, *issue)
	}
	return issues
}

// magnitudeIssues flags figures that are impossible on their face.
func magnitudeIssues(m research.MarketFigures) []research.CriticalIssue {
	var issues []research.CriticalIssue

	if m.CurrentMarketUSD < 0 || m.PeakRevenueUSD < 0 || m.AvgAnnualPriceUSD < 0 {
		issues = append(issues, factualIssue(
			fmt.Sprintf("negative revenue or price figure reported (current %.0f, peak %.0f, price %.0f)",
				m.CurrentMarketUSD, m.PeakRevenueUSD, m.AvgAnnualPriceUSD),
			"downstream growth and patient-volume figures built on it are meaningless",
			"re-research the market size from primary sources and report absolute USD figures",
		))
	}
	if m.PersistenceRate < 0 || m.PersistenceRate > 1 {
		issues = append(issues, factualIssue(
			fmt.Sprintf("persistence rate %.2f lies outside [0, 1]", m.PersistenceRate),
			"peak patient volume cannot be derived from an impossible persistence rate",
			"report persistence as the fraction of patients remaining on therapy over a year",
		))
	}
	if m.YearsToPeak < 0 {
		issues = append(issues, factualIssue(
			fmt.Sprintf("years to peak is negative (%.1f)", m.YearsToPeak),
			"the growth trajectory cannot be reconstructed",
			"report the number of years from today until projected peak sales",
		))
	}
	return issues
}

// cagrIssue recomputes the growth rate from the reported base figures and
// compares it to the reported one. A reported rate with no usable base
// figures is itself a breach: the number cannot have come from the cited
// evidence.
func cagrIssue(m research.MarketFigures) *research.CriticalIssue {
	if m.ReportedCAGR == 0 {
		return nil
	}
	if m.CurrentMarketUSD <= 0 || m.YearsToPeak <= 0 || m.PeakRevenueUSD < 0 {
		issue := factualIssue(
			fmt.Sprintf("reported CAGR %.1f%% cannot be reproduced: base figures are missing or non-positive", m.ReportedCAGR*100),
			"the growth claim has no arithmetic backing",
			"report current market, peak revenue, and years to peak alongside the growth rate",
		)
		return &issue
	}

	ok, err := market.CheckReportedCAGR(m.ReportedCAGR, m.PeakRevenueUSD, m.CurrentMarketUSD, m.YearsToPeak, figureTolerance)
	if err != nil || ok {
		return nil
	}
	computed, _ := market.CAGR(m.PeakRevenueUSD, m.CurrentMarketUSD, m.YearsToPeak)
	issue := factualIssue(
		fmt.Sprintf("reported CAGR %.1f%% disagrees with the %.1f%% implied by current %.0f to peak %.0f over %.1f years",
			m.ReportedCAGR*100, computed*100, m.CurrentMarketUSD, m.PeakRevenueUSD, m.YearsToPeak),
		"either the growth rate or the revenue figures are wrong; the projection cannot be used",
		"recompute the growth rate from the cited base figures or correct the figures",
	)
	return &issue
}

// peakPatientIssue recomputes the treated population at peak from peak
// revenue, price, and persistence.
func peakPatientIssue(m research.MarketFigures) *research.CriticalIssue {
	if m.ReportedPeakPatients <= 0 || m.AvgAnnualPriceUSD <= 0 {
		return nil
	}
	if m.PersistenceRate < 0 || m.PersistenceRate > 1 {
		return nil // already flagged as a magnitude breach
	}

	computed, err := market.PeakPatients(m.PeakRevenueUSD, m.AvgAnnualPriceUSD, m.PersistenceRate)
	if err != nil {
		return nil
	}
	if market.WithinTolerance(m.ReportedPeakPatients, computed, figureTolerance) {
		return nil
	}
	issue := factualIssue(
		fmt.Sprintf("reported peak patient count %.0f disagrees with the %.0f implied by peak revenue %.0f at price %.0f and persistence %.2f",
			m.ReportedPeakPatients, computed, m.PeakRevenueUSD, m.AvgAnnualPriceUSD, m.PersistenceRate),
		"patient volume and revenue projections contradict each other",
		"recompute peak patients from revenue, price, and persistence, or correct those figures",
	)
	return &issue
}

// fitRangeIssue flags strategic-fit sub-scores outside their [0, 1] domain.
func fitRangeIssue(fit research.StrategicFitScores) *research.CriticalIssue {
	for _, v := range fit.Vector() {
		if v < 0 || v > 1 {
			issue := factualIssue(
				fmt.Sprintf("strategic fit sub-score %.2f lies outside [0, 1]", v),
				"fit comparison against the buyer profile is undefined",
				"report each strategic fit dimension as a fraction between 0 and 1",
			)
			return &issue
		}
	}
	return nil
}

func factualIssue(description, impact, fix string) research.CriticalIssue {
	return research.CriticalIssue{
		Severity:     research.SeverityCritical,
		Category:     research.CategoryFactualAccuracy,
		Description:  description,
		Impact:       impact,
		SuggestedFix: fix,
	}
}

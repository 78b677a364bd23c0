// Package market implements the deterministic commercial-intelligence
// calculations used across the research engine: growth rates, patient
// volumes, pipeline crowding, and strategic-fit similarity. Every function is
// pure and side-effect free so the deep validator can replay them as
// invariant oracles against figures reported inside generated candidates.
package market

import (
	"fmt"
	"math"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Growth and volume metrics
// ─────────────────────────────────────────────────────────────────────────────

// CAGR computes the compound annual growth rate between a current and a peak
// revenue figure over the given horizon.
//
// Formula:
//
//	CAGR = (peak/current)^(1/years) − 1
//
// current and years must be positive; peak must be non-negative. A peak of
// zero is legal and yields −1 (revenue decaying to nothing). Invalid input is
// never coerced: an upstream data-quality defect must surface as an error,
// not as NaN flowing into a report.
func CAGR(peak, current, years float64) (float64, error) {
	if current <= 0 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("cagr: current revenue must be > 0, got %g", current))
	}
	if years <= 0 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("cagr: years must be > 0, got %g", years))
	}
	if peak < 0 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("cagr: peak revenue must be >= 0, got %g", peak))
	}

	return math.Pow(peak/current, 1.0/years) - 1.0, nil
}

// PeakPatients estimates the treated patient population at peak sales.
//
// Formula:
//
//	PeakPatients = (peakRevenue / avgPrice) × persistenceRate
//
// avgPrice must be positive; persistenceRate must lie in [0, 1].
func PeakPatients(peakRevenue, avgPrice, persistenceRate float64) (float64, error) {
	if avgPrice <= 0 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("peak patients: average price must be > 0, got %g", avgPrice))
	}
	if persistenceRate < 0 || persistenceRate > 1 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("peak patients: persistence rate must be in [0,1], got %g", persistenceRate))
	}
	if peakRevenue < 0 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("peak patients: peak revenue must be >= 0, got %g", peakRevenue))
	}

	return (peakRevenue / avgPrice) * persistenceRate, nil
}

// PipelineDensity computes how crowded a mechanism-of-action space is, as the
// percentage of industry pipeline assets aimed at the same target.
//
// Formula:
//
//	PipelineDensity = (sameTargetAssets / totalAssets) × 100
func PipelineDensity(sameTargetAssets, totalAssets float64) (float64, error) {
	if totalAssets <= 0 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("pipeline density: total assets must be > 0, got %g", totalAssets))
	}
	if sameTargetAssets < 0 {
		return 0, errors.New(errors.ErrCodeCalcInvalidInput,
			fmt.Sprintf("pipeline density: same-target assets must be >= 0, got %g", sameTargetAssets))
	}

	return (sameTargetAssets / totalAssets) * 100.0, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Strategic fit
// ─────────────────────────────────────────────────────────────────────────────

// StrategicFit scores the alignment of two strategy profiles as the cosine
// similarity of their feature vectors. Vectors must be non-empty and of equal
// length. A zero-magnitude vector produces a fit of 0 without error: an empty
// strategy has no direction to align with, which is an answer, not a defect.
func StrategicFit(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New(errors.ErrCodeCalcVectorMismatch,
			"strategic fit: vectors must be non-empty")
	}
	if len(a) != len(b) {
		return 0, errors.New(errors.ErrCodeCalcVectorMismatch,
			fmt.Sprintf("strategic fit: vector lengths differ (%d vs %d)", len(a), len(b)))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Invariant oracle helpers
// ─────────────────────────────────────────────────────────────────────────────

// WithinTolerance reports whether two figures agree to within tol, using a
// relative comparison for large magnitudes and an absolute one near zero.
// The deep validator uses this to compare a candidate's reported derived
// figures against recomputed ones.
func WithinTolerance(reported, computed, tol float64) bool {
	if tol < 0 {
		tol = 0
	}
	diff := math.Abs(reported - computed)
	scale := math.Max(math.Abs(reported), math.Abs(computed))
	if scale <= 1.0 {
		return diff <= tol
	}
	return diff <= tol*scale
}

// CheckReportedCAGR recomputes CAGR from base figures and compares it to the
// reported rate. It returns an error only for invalid base figures; a
// mismatch is reported through the boolean so the caller can downgrade the
// claim instead of aborting the attempt.
func CheckReportedCAGR(reported, peak, current, years, tol float64) (bool, error) {
	computed, err := CAGR(peak, current, years)
	if err != nil {
		return false, err
	}
	return WithinTolerance(reported, computed, tol), nil
}

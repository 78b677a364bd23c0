// Package research defines the domain model of the adaptive research engine:
// the immutable request context, the derived per-request parameters, the
// candidate document tree produced by generation, quality assessments, and
// validated deal records. Algorithms that act on these types live in the
// intelligence and application layers; this package holds only data,
// invariant helpers, and the pure parameter-selection function.
package research

import (
	"strings"

	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Development phase
// ─────────────────────────────────────────────────────────────────────────────

// DevelopmentPhase is the clinical/regulatory stage of the researched asset.
type DevelopmentPhase string

const (
	PhasePreclinical DevelopmentPhase = "preclinical"
	PhaseOne         DevelopmentPhase = "phase1"
	PhaseTwo         DevelopmentPhase = "phase2"
	PhaseThree       DevelopmentPhase = "phase3"
	PhaseFiled       DevelopmentPhase = "filed"
	PhaseApproved    DevelopmentPhase = "approved"
	PhaseUnknown     DevelopmentPhase = "unknown"
)

// ParsePhase normalises a free-form phase string. Unrecognised values map to
// PhaseUnknown rather than erroring; the selector treats unknown as neutral.
func ParsePhase(s string) DevelopmentPhase {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "preclinical", "pre-clinical", "discovery":
		return PhasePreclinical
	case "phase1", "phase 1", "phase i":
		return PhaseOne
	case "phase2", "phase 2", "phase ii":
		return PhaseTwo
	case "phase3", "phase 3", "phase iii":
		return PhaseThree
	case "filed", "submitted", "under review":
		return PhaseFiled
	case "approved", "marketed", "launched":
		return PhaseApproved
	default:
		return PhaseUnknown
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Request context
// ─────────────────────────────────────────────────────────────────────────────

// TherapeuticAreaProfile carries curated metadata about a therapeutic area
// that tunes search and validation behaviour. Scores are 0-10 scales.
type TherapeuticAreaProfile struct {
	Name                 string `json:"name"`
	CompetitorDepth      int    `json:"competitor_depth"`
	RegulatoryComplexity int    `json:"regulatory_complexity"`
	ScientificMaturity   int    `json:"scientific_maturity"`
}

// GeographyProfile carries curated metadata about a market geography.
// MarketAccessComplexity is a 0-10 scale.
type GeographyProfile struct {
	Region                 string `json:"region"`
	MarketAccessComplexity int    `json:"market_access_complexity"`
	PricingTransparency    int    `json:"pricing_transparency"`
}

// ResearchContext is the immutable input of one research request. It is
// created once per request and never mutated; everything the engine derives
// from it (parameters, corrective instructions) is computed into new values.
type ResearchContext struct {
	CorrelationID   common.CorrelationID   `json:"correlation_id"`
	Target          string                 `json:"target"`
	Indication      string                 `json:"indication"`
	TherapeuticArea TherapeuticAreaProfile `json:"therapeutic_area"`
	Geography       GeographyProfile       `json:"geography"`
	Phase           DevelopmentPhase       `json:"phase"`

	// FullDepth requests deal-level deep validation in addition to the
	// standard quality gate.
	FullDepth bool `json:"full_depth"`

	// AcademicEmphasis biases source expectations toward peer-reviewed
	// literature over commercial databases.
	AcademicEmphasis bool `json:"academic_emphasis"`
}

// Fingerprint returns the canonical cache identity of the context: the
// fields that change the engine's output, in a fixed order, lower-cased.
// Two requests with equal fingerprints are answerable from the same cached
// result. The correlation ID is deliberately excluded.
func (c ResearchContext) Fingerprint() string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(c.Target)),
		strings.ToLower(strings.TrimSpace(c.Indication)),
		strings.ToLower(strings.TrimSpace(c.TherapeuticArea.Name)),
		strings.ToLower(strings.TrimSpace(c.Geography.Region)),
		string(c.Phase),
		boolToken(c.FullDepth),
		boolToken(c.AcademicEmphasis),
	}
	return strings.Join(parts, "|")
}

func boolToken(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

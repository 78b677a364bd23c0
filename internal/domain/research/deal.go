package research

// ─────────────────────────────────────────────────────────────────────────────
// Validated deal records
// ─────────────────────────────────────────────────────────────────────────────

// PatientPopulation is the epidemiology sub-record attached to a validated
// deal when population enrichment succeeds.
type PatientPopulation struct {
	Indication        string   `json:"indication"`
	Geography         string   `json:"geography"`
	EstimatedPatients float64  `json:"estimated_patients"`
	PrevalencePer100k float64  `json:"prevalence_per_100k"`
	Sources           []Source `json:"sources,omitempty"`
}

// DealResearchResult is one deal record that survived deep validation. It is
// produced by the Deep Validator, one per accepted candidate deal entry;
// entries failing validation are discarded, never annotated-and-kept.
type DealResearchResult struct {
	Acquirer        string             `json:"acquirer"`
	Asset           string             `json:"asset"`
	Indication      string             `json:"indication"`
	Rationale       string             `json:"rationale"`
	AnnouncedDate   string             `json:"announced_date"`
	ValueUSD        float64            `json:"value_usd"`
	Stage           DevelopmentPhase   `json:"stage"`
	Sources         []Source           `json:"sources"`
	ValidationScore float64            `json:"validation_score"` // 0-100
	ValidationNotes []string           `json:"validation_notes,omitempty"`
	Population      *PatientPopulation `json:"population,omitempty"`
}

// MeetsSourceMinimum reports whether the record carries at least the
// configured minimum number of sources. A record below the minimum must
// never be retained.
func (d DealResearchResult) MeetsSourceMinimum(min int) bool {
	return len(d.Sources) >= min
}

// ─────────────────────────────────────────────────────────────────────────────
// Generic validation layer output
// ─────────────────────────────────────────────────────────────────────────────

// ValidationResult is the transient output of a single validation layer
// call. It is produced and consumed within one layer invocation; a layer
// that errors is represented as a zero-score, non-valid result rather than
// an aborted attempt.
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Score       float64  `json:"score"` // 0-100
	Issues      []string `json:"issues,omitempty"`
	Corrections []string `json:"corrections,omitempty"`
	Confidence  float64  `json:"confidence"` // 0-1
	Sources     []Source `json:"sources,omitempty"`
}

// FailedValidation returns the zero-score, non-valid result a layer reports
// when its own call errored. The issue text travels with the result so the
// combined score explains itself.
func FailedValidation(issue string) ValidationResult {
	return ValidationResult{
		IsValid: false,
		Score:   0,
		Issues:  []string{issue},
	}
}

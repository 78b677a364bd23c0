package opensearch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ErrNoEvidence reports that the index holds nothing matching the deal. The
// verifier drops the vote instead of counting an empty index against the
// candidate.
var ErrNoEvidence = errors.New(errors.ErrCodeCrossReferenceUnavailable, "no matching evidence indexed")

const (
	docTypeSummary = "summary"
	docTypeDeal    = "deal"

	// maxCorroborations bounds how many prior records one vote consults.
	maxCorroborations = 5
	// evidenceAgreementFloor is the post-penalty score a vote needs to
	// count as corroborating.
	evidenceAgreementFloor = 70.0
	// valueTolerance is the relative deal-value divergence accepted before
	// the vote flags a discrepancy.
	valueTolerance = 0.25
)

// EvidenceIndexName returns the evidence index for a key prefix.
func EvidenceIndexName(prefix string) string {
	if prefix == "" {
		prefix = "rxmi"
	}
	return prefix + "-evidence"
}

// EvidenceIndexMapping is the index layout for research evidence: one
// record per validated deal plus one summary record per accepted run.
func EvidenceIndexMapping() IndexMapping {
	return IndexMapping{
		Settings: map[string]interface{}{
			"number_of_shards":   3,
			"number_of_replicas": 1,
		},
		Mappings: map[string]interface{}{
			"properties": map[string]interface{}{
				"doc_type":         map[string]interface{}{"type": "keyword"},
				"correlation_id":   map[string]interface{}{"type": "keyword"},
				"fingerprint":      map[string]interface{}{"type": "keyword"},
				"target":           map[string]interface{}{"type": "text"},
				"indication":       map[string]interface{}{"type": "text"},
				"therapeutic_area": map[string]interface{}{"type": "keyword"},
				"region":           map[string]interface{}{"type": "keyword"},
				"summary":          map[string]interface{}{"type": "text"},
				"acquirer":         map[string]interface{}{"type": "text"},
				"asset":            map[string]interface{}{"type": "text"},
				"deal_indication":  map[string]interface{}{"type": "text"},
				"stage":            map[string]interface{}{"type": "keyword"},
				// Announced dates arrive as generated text and may be
				// partial, so they stay out of strict date typing.
				"announced_date":   map[string]interface{}{"type": "keyword"},
				"value_usd":        map[string]interface{}{"type": "double"},
				"validation_score": map[string]interface{}{"type": "double"},
				"overall_score":    map[string]interface{}{"type": "double"},
				"source_count":     map[string]interface{}{"type": "integer"},
				"sources": map[string]interface{}{
					"properties": map[string]interface{}{
						"title":     map[string]interface{}{"type": "text"},
						"url":       map[string]interface{}{"type": "keyword"},
						"type":      map[string]interface{}{"type": "keyword"},
						"year":      map[string]interface{}{"type": "integer"},
						"authority": map[string]interface{}{"type": "keyword"},
					},
				},
				"indexed_at": map[string]interface{}{"type": "date"},
			},
		},
	}
}

// evidenceDocument is the indexed shape shared by summary and deal records.
// Deal-only fields stay empty on summaries and vice versa.
type evidenceDocument struct {
	DocType         string            `json:"doc_type"`
	CorrelationID   string            `json:"correlation_id"`
	Fingerprint     string            `json:"fingerprint"`
	Target          string            `json:"target"`
	Indication      string            `json:"indication"`
	TherapeuticArea string            `json:"therapeutic_area,omitempty"`
	Region          string            `json:"region,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Acquirer        string            `json:"acquirer,omitempty"`
	Asset           string            `json:"asset,omitempty"`
	DealIndication  string            `json:"deal_indication,omitempty"`
	Stage           string            `json:"stage,omitempty"`
	AnnouncedDate   string            `json:"announced_date,omitempty"`
	ValueUSD        float64           `json:"value_usd,omitempty"`
	ValidationScore float64           `json:"validation_score,omitempty"`
	OverallScore    float64           `json:"overall_score,omitempty"`
	SourceCount     int               `json:"source_count"`
	Sources         []research.Source `json:"sources,omitempty"`
	IndexedAt       time.Time         `json:"indexed_at"`
}

// ---------------------------------------------------------------------------
// Evidence indexer
// ---------------------------------------------------------------------------

// EvidenceIndexer writes accepted research output into the evidence index
// so later runs can corroborate deal records against it.
type EvidenceIndexer struct {
	indexer *Indexer
	index   string
	logger  logging.Logger
}

// NewEvidenceIndexer binds the generic indexer to the evidence index.
func NewEvidenceIndexer(indexer *Indexer, indexPrefix string, log logging.Logger) (*EvidenceIndexer, error) {
	if indexer == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "indexer is required")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &EvidenceIndexer{
		indexer: indexer,
		index:   EvidenceIndexName(indexPrefix),
		logger:  log.Named("evidence_indexer"),
	}, nil
}

// EnsureIndex creates the evidence index when missing. Workers call it once
// at startup.
func (e *EvidenceIndexer) EnsureIndex(ctx context.Context) error {
	return e.indexer.EnsureIndex(ctx, e.index, EvidenceIndexMapping())
}

// IndexResult writes one summary record plus one record per validated deal.
func (e *EvidenceIndexer) IndexResult(ctx context.Context, rc research.ResearchContext, res *research.EngineResult) error {
	if res == nil {
		return errors.New(errors.ErrCodeValidation, "result is required")
	}

	cid := string(res.CorrelationID)
	fingerprint := rc.Fingerprint()
	now := time.Now().UTC()

	docs := map[string]interface{}{
		cid: evidenceDocument{
			DocType:         docTypeSummary,
			CorrelationID:   cid,
			Fingerprint:     fingerprint,
			Target:          rc.Target,
			Indication:      rc.Indication,
			TherapeuticArea: rc.TherapeuticArea.Name,
			Region:          rc.Geography.Region,
			Summary:         res.Document.Summary,
			OverallScore:    res.OverallScore,
			SourceCount:     res.SourceCount,
			IndexedAt:       now,
		},
	}
	for n, deal := range res.Deals {
		docs[fmt.Sprintf("%s:deal:%d", cid, n)] = evidenceDocument{
			DocType:         docTypeDeal,
			CorrelationID:   cid,
			Fingerprint:     fingerprint,
			Target:          rc.Target,
			Indication:      rc.Indication,
			TherapeuticArea: rc.TherapeuticArea.Name,
			Region:          rc.Geography.Region,
			Acquirer:        deal.Acquirer,
			Asset:           deal.Asset,
			DealIndication:  deal.Indication,
			Stage:           string(deal.Stage),
			AnnouncedDate:   deal.AnnouncedDate,
			ValueUSD:        deal.ValueUSD,
			ValidationScore: deal.ValidationScore,
			SourceCount:     len(deal.Sources),
			Sources:         deal.Sources,
			IndexedAt:       now,
		}
	}

	result, err := e.indexer.BulkIndex(ctx, e.index, docs)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return errors.Newf(errors.CodeSearchError,
			"evidence indexing left %d of %d documents unindexed", result.Failed, len(docs))
	}

	e.logger.Info("evidence indexed",
		logging.String("correlation_id", cid),
		logging.Int("documents", result.Succeeded),
		logging.Int("deals", len(res.Deals)),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Evidence cross-referencer
// ---------------------------------------------------------------------------

// EvidenceSearcher votes on deal records using previously accepted research.
// It satisfies the verifier's cross-reference seam alongside the deal graph
// and the model's own knowledge.
type EvidenceSearcher struct {
	searcher *Searcher
	index    string
	logger   logging.Logger
}

// NewEvidenceSearcher binds the generic searcher to the evidence index.
func NewEvidenceSearcher(searcher *Searcher, indexPrefix string, log logging.Logger) (*EvidenceSearcher, error) {
	if searcher == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "searcher is required")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &EvidenceSearcher{
		searcher: searcher,
		index:    EvidenceIndexName(indexPrefix),
		logger:   log.Named("evidence_searcher"),
	}, nil
}

// Name identifies the vote in validation notes.
func (e *EvidenceSearcher) Name() string { return "evidence_index" }

// CrossReference looks up prior validated records for the deal's acquirer
// and asset and scores agreement with what was stored. An empty index
// returns ErrNoEvidence so the vote is skipped rather than counted as a
// rejection.
func (e *EvidenceSearcher) CrossReference(ctx context.Context, deal research.DealRecord) (research.ValidationResult, error) {
	if strings.TrimSpace(deal.Acquirer) == "" || strings.TrimSpace(deal.Asset) == "" {
		return research.ValidationResult{}, errors.New(errors.ErrCodeValidation, "deal needs an acquirer and an asset")
	}

	out, err := e.searcher.Search(ctx, SearchRequest{
		Index: e.index,
		Query: &Query{
			Kind: QueryBool,
			Must: []Query{
				{Kind: QueryMatch, Field: "acquirer", Value: deal.Acquirer},
				{Kind: QueryMatch, Field: "asset", Value: deal.Asset},
			},
		},
		Filters: []Filter{{Kind: FilterTerm, Field: "doc_type", Value: docTypeDeal}},
		Sort:    []SortField{{Field: "validation_score", Order: "desc"}},
		Page:    &Pagination{Limit: maxCorroborations},
	})
	if err != nil {
		return research.ValidationResult{}, err
	}
	if out.Total == 0 {
		return research.ValidationResult{}, ErrNoEvidence
	}

	records := make([]evidenceDocument, 0, len(out.Hits))
	for _, hit := range out.Hits {
		var doc evidenceDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			e.logger.Warn("skipping undecodable evidence record",
				logging.String("doc_id", hit.ID),
				logging.Err(err),
			)
			continue
		}
		records = append(records, doc)
	}
	if len(records) == 0 {
		return research.ValidationResult{}, ErrNoEvidence
	}

	return e.vote(deal, records), nil
}

// vote scores the deal against the retrieved records. The base is the mean
// validation score the records earned when first accepted; disagreements
// with the best record subtract from it.
func (e *EvidenceSearcher) vote(deal research.DealRecord, records []evidenceDocument) research.ValidationResult {
	var sum float64
	for _, rec := range records {
		sum += rec.ValidationScore
	}
	score := sum / float64(len(records))

	best := records[0]
	var issues []string

	if !fieldsAgree(deal.Indication, best.DealIndication) {
		score -= 15
		issues = append(issues, fmt.Sprintf("indication differs from indexed evidence: %q", best.DealIndication))
	}
	if deal.ValueUSD > 0 && best.ValueUSD > 0 && relativeDiff(deal.ValueUSD, best.ValueUSD) > valueTolerance {
		score -= 15
		issues = append(issues, fmt.Sprintf("deal value differs from indexed evidence by more than %.0f%%", valueTolerance*100))
	}
	if !fieldsAgree(string(deal.Stage), best.Stage) {
		score -= 10
		issues = append(issues, fmt.Sprintf("stage differs from indexed evidence: %q", best.Stage))
	}

	score = math.Max(0, math.Min(100, score))
	confidence := math.Min(1, float64(len(records))/3.0)

	return research.ValidationResult{
		IsValid:    score >= evidenceAgreementFloor,
		Score:      score,
		Issues:     issues,
		Confidence: confidence,
		Sources:    best.Sources,
	}
}

// fieldsAgree treats empty values as unknown rather than disagreement, and
// accepts containment either way so "NSCLC" matches "advanced NSCLC".
func fieldsAgree(a, b string) bool {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return true
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func relativeDiff(a, b float64) float64 {
	larger := math.Max(a, b)
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}

package milvus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ErrNoSimilarClaims reports that the store holds no claim close enough to
// the deal. The verifier skips the vote rather than counting an empty store
// against the candidate.
var ErrNoSimilarClaims = errors.New(errors.ErrCodeCrossReferenceUnavailable, "no similar verified claims stored")

const (
	// similarityFloor is the cosine similarity a stored claim needs to join
	// the vote.
	similarityFloor = 0.80
	// claimAgreementFloor is the post-penalty score a vote needs to count
	// as corroborating.
	claimAgreementFloor = 70.0
	// claimValueTolerance is the relative deal-value divergence accepted
	// before the vote flags a discrepancy.
	claimValueTolerance = 0.25

	defaultTopK = 10
)

// Embedder turns claim text into the vector the collection indexes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ClaimStore records validated deal claims as embeddings and votes on new
// deal records by semantic similarity to what earlier runs verified. It is
// the third cross-reference voter next to the deal graph and the evidence
// index, and the only one that matches paraphrased entity names.
type ClaimStore struct {
	client     *Client
	embedder   Embedder
	collection string
	cfg        config.MilvusConfig
	logger     logging.Logger
}

// NewClaimStore binds the store to a client and an embedder.
func NewClaimStore(c *Client, embedder Embedder, cfg config.MilvusConfig, log logging.Logger) (*ClaimStore, error) {
	if c == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "milvus client is required")
	}
	if embedder == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "embedder is required")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ClaimStore{
		client:     c,
		embedder:   embedder,
		collection: ClaimCollectionName(cfg.CollectionPrefix),
		cfg:        cfg,
		logger:     log.Named("claim_store"),
	}, nil
}

// RecordResult embeds and stores one claim per validated deal in the run.
// Deals whose acquirer or asset is blank carry no claim and are skipped.
func (s *ClaimStore) RecordResult(ctx context.Context, rc research.ResearchContext, res *research.EngineResult) error {
	if res == nil {
		return errors.New(errors.ErrCodeValidation, "result is required")
	}
	if len(res.Deals) == 0 {
		return nil
	}
	mc := s.client.Raw()
	if mc == nil {
		return ErrConnectionFailed
	}

	cid := string(res.CorrelationID)
	var (
		claims      []string
		cids        []string
		acquirers   []string
		assets      []string
		indications []string
		stages      []string
		values      []float64
		scores      []float64
		vectors     [][]float32
	)
	for _, deal := range res.Deals {
		text := claimText(deal.Acquirer, deal.Asset, deal.Indication, deal.Stage)
		if text == "" {
			continue
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		claims = append(claims, clip(text, maxClaimLen))
		cids = append(cids, clip(cid, maxCorrelationIDLen))
		acquirers = append(acquirers, clip(deal.Acquirer, maxNameLen))
		assets = append(assets, clip(deal.Asset, maxNameLen))
		indications = append(indications, clip(deal.Indication, maxIndicationLen))
		stages = append(stages, clip(string(deal.Stage), maxStageLen))
		values = append(values, deal.ValueUSD)
		scores = append(scores, deal.ValidationScore)
		vectors = append(vectors, vec)
	}
	if len(claims) == 0 {
		return nil
	}

	_, err := mc.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar(fieldClaim, claims),
		entity.NewColumnVarChar(fieldCorrelationID, cids),
		entity.NewColumnVarChar(fieldAcquirer, acquirers),
		entity.NewColumnVarChar(fieldAsset, assets),
		entity.NewColumnVarChar(fieldIndication, indications),
		entity.NewColumnVarChar(fieldStage, stages),
		entity.NewColumnDouble(fieldValueUSD, values),
		entity.NewColumnDouble(fieldScore, scores),
		entity.NewColumnFloatVector(fieldEmbedding, s.cfg.EmbeddingDim, vectors),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeSearchError, "storing verified claims")
	}

	s.logger.Info("verified claims stored",
		logging.String("correlation_id", cid),
		logging.Int("claims", len(claims)),
	)
	return nil
}

// Name identifies the vote in validation notes.
func (s *ClaimStore) Name() string { return "claim_vectors" }

// CrossReference embeds the deal's claim and scores agreement with the most
// similar verified claims. No stored claim above the similarity floor
// returns ErrNoSimilarClaims so the vote is skipped rather than counted as
// a rejection.
func (s *ClaimStore) CrossReference(ctx context.Context, deal research.DealRecord) (research.ValidationResult, error) {
	if strings.TrimSpace(deal.Acquirer) == "" || strings.TrimSpace(deal.Asset) == "" {
		return research.ValidationResult{}, errors.New(errors.ErrCodeValidation, "deal needs an acquirer and an asset")
	}
	mc := s.client.Raw()
	if mc == nil {
		return research.ValidationResult{}, ErrConnectionFailed
	}

	vec, err := s.embedder.Embed(ctx, claimText(deal.Acquirer, deal.Asset, deal.Indication, deal.Stage))
	if err != nil {
		return research.ValidationResult{}, err
	}
	sp, err := searchParam(s.cfg.IndexType)
	if err != nil {
		return research.ValidationResult{}, err
	}
	topK := s.cfg.DefaultTopK
	if topK <= 0 {
		topK = defaultTopK
	}

	results, err := mc.Search(ctx, s.collection, nil, "",
		[]string{fieldAcquirer, fieldAsset, fieldIndication, fieldStage, fieldValueUSD, fieldScore},
		[]entity.Vector{entity.FloatVector(vec)},
		fieldEmbedding, entity.COSINE, topK, sp,
		client.WithSearchQueryConsistencyLevel(entity.ClBounded),
	)
	if err != nil {
		return research.ValidationResult{}, errors.Wrap(err, errors.CodeSearchError, "searching verified claims")
	}

	hits := collectHits(results)
	if len(hits) == 0 {
		return research.ValidationResult{}, ErrNoSimilarClaims
	}
	return s.vote(deal, hits), nil
}

// claimHit is one stored claim above the similarity floor.
type claimHit struct {
	Similarity      float64
	Acquirer        string
	Asset           string
	Indication      string
	Stage           string
	ValueUSD        float64
	ValidationScore float64
}

func collectHits(results []client.SearchResult) []claimHit {
	var hits []claimHit
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for i := 0; i < res.ResultCount && i < len(res.Scores); i++ {
			sim := float64(res.Scores[i])
			if sim < similarityFloor {
				continue
			}
			hits = append(hits, claimHit{
				Similarity:      sim,
				Acquirer:        columnString(res.Fields, fieldAcquirer, i),
				Asset:           columnString(res.Fields, fieldAsset, i),
				Indication:      columnString(res.Fields, fieldIndication, i),
				Stage:           columnString(res.Fields, fieldStage, i),
				ValueUSD:        columnDouble(res.Fields, fieldValueUSD, i),
				ValidationScore: columnDouble(res.Fields, fieldScore, i),
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits
}

// vote scores the deal from the stored validation scores of its nearest
// verified claims, weighted by similarity, then subtracts for disagreements
// with the closest one.
func (s *ClaimStore) vote(deal research.DealRecord, hits []claimHit) research.ValidationResult {
	var weighted, weight float64
	for _, h := range hits {
		weighted += h.Similarity * h.ValidationScore
		weight += h.Similarity
	}
	score := weighted / weight

	best := hits[0]
	var issues []string

	if !claimsAgree(deal.Indication, best.Indication) {
		score -= 15
		issues = append(issues, fmt.Sprintf("indication differs from the closest verified claim: %q", best.Indication))
	}
	if deal.ValueUSD > 0 && best.ValueUSD > 0 && relativeDivergence(deal.ValueUSD, best.ValueUSD) > claimValueTolerance {
		score -= 15
		issues = append(issues, fmt.Sprintf("deal value differs from the closest verified claim by more than %.0f%%", claimValueTolerance*100))
	}
	if !claimsAgree(string(deal.Stage), best.Stage) {
		score -= 10
		issues = append(issues, fmt.Sprintf("stage differs from the closest verified claim: %q", best.Stage))
	}

	score = math.Max(0, math.Min(100, score))

	return research.ValidationResult{
		IsValid:    score >= claimAgreementFloor,
		Score:      score,
		Issues:     issues,
		Confidence: math.Min(1, float64(len(hits))/3.0),
	}
}

// claimText renders the canonical claim sentence embeddings are computed
// from. Record and query sides must produce identical text for identical
// deals, so the format is fixed. The deal value stays out of the text; the
// vote compares values from stored fields instead, where a divergence is a
// penalty rather than a similarity miss.
func claimText(acquirer, asset, indication string, stage research.DevelopmentPhase) string {
	acquirer = strings.TrimSpace(acquirer)
	asset = strings.TrimSpace(asset)
	if acquirer == "" || asset == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(acquirer)
	b.WriteString(" acquired ")
	b.WriteString(asset)
	if ind := strings.TrimSpace(indication); ind != "" {
		b.WriteString(" for ")
		b.WriteString(ind)
	}
	if st := strings.TrimSpace(string(stage)); st != "" {
		b.WriteString(" at ")
		b.WriteString(st)
	}
	b.WriteString(".")
	return b.String()
}

// claimsAgree treats empty values as unknown rather than disagreement, and
// accepts containment either way so "NSCLC" matches "advanced NSCLC".
func claimsAgree(a, b string) bool {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return true
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func relativeDivergence(a, b float64) float64 {
	larger := math.Max(a, b)
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}

// clip keeps a value inside its VarChar capacity.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func columnString(fields client.ResultSet, name string, idx int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.GetAsString(idx)
	if err != nil {
		return ""
	}
	return v
}

func columnDouble(fields client.ResultSet, name string, idx int) float64 {
	col := fields.GetColumn(name)
	if col == nil {
		return 0
	}
	v, err := col.GetAsDouble(idx)
	if err != nil {
		return 0
	}
	return v
}

// Package repositories provides the Neo4j-backed deal knowledge graph:
// validated acquisitions are recorded as Company-ACQUIRED->Asset edges and
// later runs cross-reference their deal records against them.
package repositories

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	driver "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/database/neo4j"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ErrNoGraphRecord reports that the graph holds no acquisition edge for the
// deal. The verifier skips the vote rather than counting an empty graph
// against the candidate.
var ErrNoGraphRecord = errors.New(errors.ErrCodeCrossReferenceUnavailable, "no acquisition edge recorded")

const (
	// maxCorroborations bounds how many recorded edges one vote consults.
	maxCorroborations = 5
	// agreementFloor is the post-penalty score a vote needs to count as
	// corroborating.
	agreementFloor = 70.0
	// valueTolerance is the relative deal-value divergence accepted before
	// the vote flags a discrepancy.
	valueTolerance = 0.25

	// corroborationBase plus one step is the score of a deal recorded by a
	// single prior run; each additional independent run adds a step.
	corroborationBase = 60.0
	corroborationStep = 10.0
	corroborationCap  = 4
)

var schemaStatements = []string{
	`CREATE CONSTRAINT company_name_key IF NOT EXISTS FOR (c:Company) REQUIRE c.name_key IS UNIQUE`,
	`CREATE CONSTRAINT asset_name_key IF NOT EXISTS FOR (a:Asset) REQUIRE a.name_key IS UNIQUE`,
	`CREATE INDEX acquired_correlation IF NOT EXISTS FOR ()-[d:ACQUIRED]-() ON (d.correlation_id)`,
}

// One edge per company, asset and recording run. Re-recording the same run,
// as happens when a completed event redelivers, merges into the existing
// edge instead of inflating the corroboration count.
const recordDealsCypher = `
UNWIND $batch AS row
MERGE (c:Company {name_key: row.acquirer_key})
  ON CREATE SET c.name = row.acquirer, c.created_at = datetime()
MERGE (a:Asset {name_key: row.asset_key})
  ON CREATE SET a.name = row.asset, a.created_at = datetime()
MERGE (c)-[d:ACQUIRED {correlation_id: row.correlation_id}]->(a)
  ON CREATE SET d.indication = row.indication,
                d.stage = row.stage,
                d.value_usd = row.value_usd,
                d.announced_date = row.announced_date,
                d.validation_score = row.validation_score,
                d.target = row.target,
                d.recorded_at = datetime()`

const matchDealsCypher = `
MATCH (c:Company {name_key: $acquirer_key})-[d:ACQUIRED]->(a:Asset {name_key: $asset_key})
RETURN d.correlation_id AS correlation_id,
       d.indication AS indication,
       d.stage AS stage,
       d.value_usd AS value_usd,
       d.validation_score AS validation_score
ORDER BY d.validation_score DESC
LIMIT $limit`

// DealGraphRepo records validated deals as graph edges and votes on new deal
// records by counting independent corroborating runs. It serves as one
// cross-reference voter alongside the evidence index and the model's own
// knowledge.
type DealGraphRepo struct {
	exec driver.Executor
	log  logging.Logger
}

// NewDealGraphRepo binds the repository to a driver.
func NewDealGraphRepo(exec driver.Executor, log logging.Logger) (*DealGraphRepo, error) {
	if exec == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "neo4j executor is required")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &DealGraphRepo{
		exec: exec,
		log:  log.Named("deal_graph"),
	}, nil
}

// EnsureSchema creates the uniqueness constraints and the correlation index.
// Workers call it once at startup.
func (r *DealGraphRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		stmt := stmt
		if _, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
			result, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			_, err = result.Consume(ctx)
			return nil, err
		}); err != nil {
			return err
		}
	}
	r.log.Info("deal graph schema ready")
	return nil
}

// RecordResult merges the run's validated deals into the graph. Deals whose
// acquirer or asset normalises to nothing are skipped; they cannot carry a
// merge identity.
func (r *DealGraphRepo) RecordResult(ctx context.Context, rc research.ResearchContext, res *research.EngineResult) error {
	if res == nil {
		return errors.New(errors.ErrCodeValidation, "result is required")
	}
	cid := string(res.CorrelationID)

	var batch []map[string]any
	skipped := 0
	for _, deal := range res.Deals {
		acquirerKey := nameKey(deal.Acquirer)
		assetKey := nameKey(deal.Asset)
		if acquirerKey == "" || assetKey == "" {
			skipped++
			continue
		}
		batch = append(batch, map[string]any{
			"acquirer":         deal.Acquirer,
			"acquirer_key":     acquirerKey,
			"asset":            deal.Asset,
			"asset_key":        assetKey,
			"correlation_id":   cid,
			"target":           rc.Target,
			"indication":       deal.Indication,
			"stage":            string(deal.Stage),
			"value_usd":        deal.ValueUSD,
			"announced_date":   deal.AnnouncedDate,
			"validation_score": deal.ValidationScore,
		})
	}
	if skipped > 0 {
		r.log.Warn("skipping deals without merge identity",
			logging.String("correlation_id", cid),
			logging.Int("skipped", skipped),
		)
	}
	if len(batch) == 0 {
		return nil
	}

	_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, recordDealsCypher, map[string]any{"batch": batch})
		if err != nil {
			return nil, err
		}
		_, err = result.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return err
	}

	r.log.Info("deal graph updated",
		logging.String("correlation_id", cid),
		logging.Int("deals", len(batch)),
	)
	return nil
}

// Name identifies the vote in validation notes.
func (r *DealGraphRepo) Name() string { return "deal_graph" }

// CrossReference matches the deal's acquirer and asset against recorded
// acquisition edges and scores agreement. An empty match returns
// ErrNoGraphRecord so the vote is skipped rather than counted as a
// rejection.
func (r *DealGraphRepo) CrossReference(ctx context.Context, deal research.DealRecord) (research.ValidationResult, error) {
	acquirerKey := nameKey(deal.Acquirer)
	assetKey := nameKey(deal.Asset)
	if acquirerKey == "" || assetKey == "" {
		return research.ValidationResult{}, errors.New(errors.ErrCodeValidation, "deal needs an acquirer and an asset")
	}

	out, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, matchDealsCypher, map[string]any{
			"acquirer_key": acquirerKey,
			"asset_key":    assetKey,
			"limit":        maxCorroborations,
		})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, mapDealEdge)
	})
	if err != nil {
		return research.ValidationResult{}, err
	}

	edges := out.([]dealEdge)
	if len(edges) == 0 {
		return research.ValidationResult{}, ErrNoGraphRecord
	}
	return r.vote(deal, edges), nil
}

// dealEdge is one recorded acquisition as returned by the match query.
type dealEdge struct {
	CorrelationID   string
	Indication      string
	Stage           string
	ValueUSD        float64
	ValidationScore float64
}

func mapDealEdge(rec *neo4j.Record) (dealEdge, error) {
	return dealEdge{
		CorrelationID:   stringValue(rec, "correlation_id"),
		Indication:      stringValue(rec, "indication"),
		Stage:           stringValue(rec, "stage"),
		ValueUSD:        floatValue(rec, "value_usd"),
		ValidationScore: floatValue(rec, "validation_score"),
	}, nil
}

// vote scores the deal from the number of independent runs that recorded the
// edge, then subtracts for disagreements with the strongest recording. Edges
// are keyed one per run, so every row is an independent corroboration.
func (r *DealGraphRepo) vote(deal research.DealRecord, edges []dealEdge) research.ValidationResult {
	independent := len(edges)
	steps := independent
	if steps > corroborationCap {
		steps = corroborationCap
	}
	score := corroborationBase + corroborationStep*float64(steps)

	best := edges[0]
	var issues []string

	if !termsAgree(deal.Indication, best.Indication) {
		score -= 15
		issues = append(issues, fmt.Sprintf("indication differs from the recorded acquisition: %q", best.Indication))
	}
	if deal.ValueUSD > 0 && best.ValueUSD > 0 && relativeGap(deal.ValueUSD, best.ValueUSD) > valueTolerance {
		score -= 15
		issues = append(issues, fmt.Sprintf("deal value differs from the recorded acquisition by more than %.0f%%", valueTolerance*100))
	}
	if !termsAgree(string(deal.Stage), best.Stage) {
		score -= 10
		issues = append(issues, fmt.Sprintf("stage differs from the recorded acquisition: %q", best.Stage))
	}

	score = math.Max(0, math.Min(100, score))

	return research.ValidationResult{
		IsValid:    score >= agreementFloor,
		Score:      score,
		Issues:     issues,
		Confidence: math.Min(1, float64(independent)/3.0),
	}
}

// nameKey normalises an entity name into its merge identity.
func nameKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// termsAgree treats empty values as unknown rather than disagreement, and
// accepts containment either way so "NSCLC" corroborates "advanced NSCLC".
func termsAgree(a, b string) bool {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return true
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func relativeGap(a, b float64) float64 {
	larger := math.Max(a, b)
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}

func stringValue(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func floatValue(rec *neo4j.Record, key string) float64 {
	if v, ok := rec.Get(key); ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	}
	return 0
}

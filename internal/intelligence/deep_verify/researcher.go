package deep_verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

const defaultMaxDeals = 8

const dealResearchSystemPrompt = `You are a pharmaceutical business-development researcher compiling
comparable transactions. Report only real, publicly disclosed deals matching
the request, each with its cited sources. Never invent a transaction; omit
anything you cannot source.
Respond with a single JSON object:
{"deals": [{"acquirer": string, "asset": string, "indication": string,
 "rationale": string, "announced_date": "YYYY-MM-DD", "value_usd": number,
 "stage": string, "sources": [{"title": string, "url": string, "type": string,
 "year": number, "authority": string}]}]}`

// DealQuery asks for comparable transactions at one search tier.
type DealQuery struct {
	Context     research.ResearchContext
	Specificity SpecificityTier
	Attempt     int
	MaxResults  int
	MinSources  int
}

// DealResearcher gathers candidate transactions for a validation cycle.
type DealResearcher interface {
	ResearchDeals(ctx context.Context, q DealQuery) ([]research.DealRecord, error)
}

type modelResearcher struct {
	backend common.ModelBackend
	model   string
	logger  logging.Logger
}

// NewModelResearcher returns a DealResearcher that asks the generation
// model for comparable transactions, phrasing the search per the query's
// specificity tier.
func NewModelResearcher(backend common.ModelBackend, model string, logger logging.Logger) (DealResearcher, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "deal researcher needs a model backend")
	}
	if model == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "deal researcher needs a model name")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &modelResearcher{backend: backend, model: model, logger: logger.Named("deal_research")}, nil
}

func (r *modelResearcher) ResearchDeals(ctx context.Context, q DealQuery) ([]research.DealRecord, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = defaultMaxDeals
	}

	payload, err := researchPayload(q)
	if err != nil {
		return nil, err
	}
	req := &common.InvokeRequest{Model: r.model, Task: common.TaskGenerate, Payload: payload}
	if q.Context.CorrelationID != "" {
		req.Metadata = map[string]string{"correlation_id": string(q.Context.CorrelationID)}
	}

	resp, err := r.backend.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	body, err := resp.Body()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedCandidate, "deal sheet unreadable")
	}

	var sheet struct {
		Deals []research.DealRecord `json:"deals"`
	}
	if err := json.Unmarshal(extractJSON(body), &sheet); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedCandidate, "deal sheet is not the expected JSON shape")
	}
	deals := sheet.Deals
	if len(deals) > q.MaxResults {
		deals = deals[:q.MaxResults]
	}

	r.logger.Debug("deal research round complete",
		logging.String("correlation_id", string(q.Context.CorrelationID)),
		logging.String("specificity", string(q.Specificity)),
		logging.Int("attempt", q.Attempt),
		logging.Int("deals", len(deals)),
	)
	return deals, nil
}

func researchPayload(q DealQuery) (*structpb.Struct, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Find comparable pharmaceutical transactions for %s in %s (%s, %s).\n",
		q.Context.Target, q.Context.Indication, q.Context.TherapeuticArea.Name, q.Context.Geography.Region)
	b.WriteString(q.Specificity.Guidance())
	fmt.Fprintf(&b, "\nReturn at most %d deals. Every deal must cite at least %d sources.", q.MaxResults, q.MinSources)

	cfg, err := structpb.NewStruct(map[string]interface{}{
		"specificity": string(q.Specificity),
		"max_results": q.MaxResults,
		"min_sources": q.MinSources,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "research config")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"system":  structpb.NewStringValue(dealResearchSystemPrompt),
		"prompt":  structpb.NewStringValue(b.String()),
		"attempt": structpb.NewNumberValue(float64(q.Attempt)),
		"config":  structpb.NewStructValue(cfg),
	}}, nil
}

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

const populationSystemPrompt = `You are an epidemiology researcher. Report the patient population for
the requested indication and geography using authoritative epidemiological
sources only (WHO, national registries, peer-reviewed prevalence studies).
Never estimate without a source; answer with zero patients when no
authoritative figure exists.
Respond with a single JSON object:
{"indication": string, "geography": string, "estimated_patients": number,
 "prevalence_per_100k": number, "sources": [{"title": string, "url": string,
 "type": string, "year": number, "authority": string}]}`

type modelPopulationSource struct {
	backend common.ModelBackend
	model   string
	logger  logging.Logger
}

// NewModelPopulationSource returns a PopulationSource that resolves patient
// populations through the verification model, demanding cited
// epidemiological sources for every figure.
func NewModelPopulationSource(backend common.ModelBackend, model string, logger logging.Logger) (PopulationSource, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "population source needs a model backend")
	}
	if model == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "population source needs a model name")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &modelPopulationSource{backend: backend, model: model, logger: logger.Named("population")}, nil
}

func (p *modelPopulationSource) LookupPopulation(ctx context.Context, indication, geography string) (*research.PatientPopulation, error) {
	if strings.TrimSpace(indication) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "indication is required")
	}

	resp, err := p.backend.Invoke(ctx, &common.InvokeRequest{
		Model: p.model,
		Task:  common.TaskVerify,
		Payload: &structpb.Struct{Fields: map[string]*structpb.Value{
			"system": structpb.NewStringValue(populationSystemPrompt),
			"prompt": structpb.NewStringValue(fmt.Sprintf(
				"Patient population for %s in %s.", indication, geography)),
		}},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePopulationDataUnavailable, "population lookup")
	}
	body, err := resp.Body()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePopulationDataUnavailable, "population reply unreadable")
	}

	var pop research.PatientPopulation
	if err := json.Unmarshal(extractJSON(body), &pop); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePopulationDataUnavailable, "population reply is not the expected JSON shape")
	}
	// An unsourced figure is fabrication risk, not data.
	if pop.EstimatedPatients <= 0 || len(pop.Sources) == 0 {
		return nil, errors.New(errors.ErrCodePopulationDataUnavailable, "no sourced population figure available")
	}
	if pop.Indication == "" {
		pop.Indication = indication
	}
	if pop.Geography == "" {
		pop.Geography = geography
	}

	p.logger.Debug("population resolved",
		logging.String("indication", pop.Indication),
		logging.String("geography", pop.Geography),
		logging.Float64("patients", pop.EstimatedPatients),
		logging.Int("sources", len(pop.Sources)),
	)
	return &pop, nil
}

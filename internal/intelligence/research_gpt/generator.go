package research_gpt

import (
	"context"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Generator contract
// ---------------------------------------------------------------------------

// GenerateRequest is one generation attempt's input.
type GenerateRequest struct {
	Context               research.ResearchContext
	Params                research.ResearchParameters
	Attempt               int
	CorrectiveInstruction string
}

// GenerateResult is one generation attempt's parsed output. Raw is kept so
// callers can archive exactly what the model said.
type GenerateResult struct {
	Candidate       *research.Candidate
	Raw             string
	Model           string
	LatencyMs       int64
	PromptTruncated bool
}

// Generator produces candidate documents from research contexts.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
	Healthy(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

// Config selects the model and prompt behavior for the generator.
type Config struct {
	Model  string
	Prompt PromptConfig
}

type generator struct {
	backend common.ModelBackend
	prompts PromptBuilder
	model   string
	logger  logging.Logger
}

// NewGenerator wires a generator to a model backend.
func NewGenerator(backend common.ModelBackend, cfg Config, logger logging.Logger) (Generator, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "model backend is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "generation model name is required")
	}
	prompts, err := NewPromptBuilder(cfg.Prompt)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &generator{
		backend: backend,
		prompts: prompts,
		model:   cfg.Model,
		logger:  logger.Named("research_gpt"),
	}, nil
}

func (g *generator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeValidation, "generate request is nil")
	}

	built, err := g.prompts.BuildGenerationPrompt(&PromptInput{
		Context:               req.Context,
		Params:                req.Params,
		Attempt:               req.Attempt,
		CorrectiveInstruction: req.CorrectiveInstruction,
	})
	if err != nil {
		return nil, err
	}

	payload, err := generationPayload(built, req)
	if err != nil {
		return nil, err
	}

	resp, err := g.backend.Invoke(ctx, &common.InvokeRequest{
		Model:   g.model,
		Task:    common.TaskGenerate,
		Payload: payload,
		Metadata: map[string]string{
			"correlation_id": string(req.Context.CorrelationID),
		},
	})
	if err != nil {
		return nil, err
	}

	body, err := resp.Body()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedCandidate, "generation reply is not readable")
	}

	candidate, err := ParseCandidate(body)
	if err != nil {
		g.logger.Warn("candidate could not be parsed",
			logging.String("correlation_id", string(req.Context.CorrelationID)),
			logging.Int("attempt", req.Attempt),
			logging.Err(err),
		)
		return nil, err
	}

	g.logger.Debug("candidate generated",
		logging.String("correlation_id", string(req.Context.CorrelationID)),
		logging.Int("attempt", req.Attempt),
		logging.Int("sources", candidate.SourceCount()),
		logging.Int64("latency_ms", resp.LatencyMs),
	)

	return &GenerateResult{
		Candidate:       candidate,
		Raw:             string(body),
		Model:           resp.Model,
		LatencyMs:       resp.LatencyMs,
		PromptTruncated: built.TruncationApplied,
	}, nil
}

func (g *generator) Healthy(ctx context.Context) error {
	return g.backend.Healthy(ctx)
}

// generationPayload assembles the wire payload: the rendered prompt plus the
// configuration bundle the serving side forwards to the model.
func generationPayload(built *BuiltPrompt, req *GenerateRequest) (*structpb.Struct, error) {
	cfg, err := structpb.NewStruct(map[string]interface{}{
		"search_depth":       string(req.Params.SearchDepth),
		"context_size":       string(req.Params.ContextSize),
		"reasoning_effort":   string(req.Params.ReasoningEffort),
		"strictness":         string(req.Params.Strictness),
		"queries_per_search": req.Params.QueriesPerSearch,
		"min_source_count":   req.Params.MinSourceCount,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "generation config bundle")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"system":  structpb.NewStringValue(built.System),
		"prompt":  structpb.NewStringValue(built.User),
		"attempt": structpb.NewNumberValue(float64(req.Attempt)),
		"config":  structpb.NewStructValue(cfg),
	}}, nil
}

package deep_verify

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces
// ─────────────────────────────────────────────────────────────────────────────

// CrossReferencer checks one deal record against an independent evidence
// database. The deal graph, the evidence index, and the model's own
// knowledge each implement it; the verifier treats every implementation as
// one vote.
type CrossReferencer interface {
	Name() string
	CrossReference(ctx context.Context, deal research.DealRecord) (research.ValidationResult, error)
}

// SourceChecker verifies a single citation: the source must exist and must
// plausibly support the claim it is attached to.
type SourceChecker interface {
	CheckSource(ctx context.Context, src research.Source) (bool, error)
}

// PopulationSource resolves patient-population figures for an indication
// from authoritative epidemiological material.
type PopulationSource interface {
	LookupPopulation(ctx context.Context, indication, geography string) (*research.PatientPopulation, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Model-backed layers
// ─────────────────────────────────────────────────────────────────────────────

const factCheckSystemPrompt = `You are a pharmaceutical transaction fact checker.
Verify every factual element of the deal record against its cited sources:
counterparties, asset, indication, announcement date, development stage at
signing, and deal value. Score factual accuracy from 0 to 100.
Respond with a single JSON object:
{"is_valid": boolean, "score": number, "issues": [string], "corrections": [string],
 "confidence": number, "sources": [{"title": string, "url": string, "type": string,
 "year": number, "authority": string}]}
Set is_valid to false when any material fact cannot be confirmed.`

const logicCheckSystemPrompt = `You are a pharmaceutical deal analyst checking internal consistency.
Judge whether the deal record coheres: the value is plausible for the stage
and indication, the rationale fits the acquirer's strategy, and the date,
stage, and figures do not contradict each other. Score logical coherence
from 0 to 100.
Respond with a single JSON object:
{"is_valid": boolean, "score": number, "issues": [string], "corrections": [string],
 "confidence": number, "sources": []}`

const crossRefSystemPrompt = `You are cross-referencing a reported pharmaceutical transaction
against your knowledge of publicly disclosed deals. State whether a matching
transaction is known, score from 0 to 100 how fully the record matches the
disclosure, and list every discrepancy as an issue.
Respond with a single JSON object:
{"is_valid": boolean, "score": number, "issues": [string], "corrections": [string],
 "confidence": number, "sources": []}`

const sourceCheckSystemPrompt = `You verify a single citation attached to a pharmaceutical
transaction claim. Judge whether the source plausibly exists and whether a
publication of that title, type, year, and authority could support the claim.
Respond with a single JSON object: {"is_valid": boolean}`

// modelLayers runs the fact-check and logic layers, the model's own
// cross-reference vote, and per-source checks through the verification
// model.
type modelLayers struct {
	backend common.ModelBackend
	model   string
}

func newModelLayers(backend common.ModelBackend, model string) *modelLayers {
	return &modelLayers{backend: backend, model: model}
}

func (m *modelLayers) FactCheck(ctx context.Context, deal research.DealRecord, rc research.ResearchContext) (research.ValidationResult, error) {
	return m.verify(ctx, factCheckSystemPrompt, deal, &rc)
}

func (m *modelLayers) LogicCheck(ctx context.Context, deal research.DealRecord, rc research.ResearchContext) (research.ValidationResult, error) {
	return m.verify(ctx, logicCheckSystemPrompt, deal, &rc)
}

func (m *modelLayers) CheckSource(ctx context.Context, src research.Source) (bool, error) {
	srcJSON, err := json.Marshal(src)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeSerialization, "marshal source")
	}
	srcStruct, err := common.StructFromJSON(srcJSON)
	if err != nil {
		return false, err
	}

	resp, err := m.backend.Invoke(ctx, &common.InvokeRequest{
		Model: m.model,
		Task:  common.TaskVerify,
		Payload: &structpb.Struct{Fields: map[string]*structpb.Value{
			"system": structpb.NewStringValue(sourceCheckSystemPrompt),
			"source": structpb.NewStructValue(srcStruct),
		}},
	})
	if err != nil {
		return false, err
	}

	body, err := resp.Body()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeValidationLayerFailed, "source check reply unreadable")
	}
	var verdict struct {
		IsValid bool `json:"is_valid"`
	}
	if err := json.Unmarshal(extractJSON(body), &verdict); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeValidationLayerFailed, "source check reply is not the expected JSON shape")
	}
	return verdict.IsValid, nil
}

func (m *modelLayers) verify(ctx context.Context, system string, deal research.DealRecord, rc *research.ResearchContext) (research.ValidationResult, error) {
	payload, err := verificationPayload(system, deal, rc)
	if err != nil {
		return research.ValidationResult{}, err
	}

	req := &common.InvokeRequest{Model: m.model, Task: common.TaskVerify, Payload: payload}
	if rc != nil && rc.CorrelationID != "" {
		req.Metadata = map[string]string{"correlation_id": string(rc.CorrelationID)}
	}
	resp, err := m.backend.Invoke(ctx, req)
	if err != nil {
		return research.ValidationResult{}, err
	}
	return decodeValidationResult(resp)
}

// modelCrossReferencer is the knowledge vote the verifier always holds, so
// cross-referencing works before any database adapter is wired.
type modelCrossReferencer struct {
	layers *modelLayers
}

func (m *modelCrossReferencer) Name() string { return "model_knowledge" }

func (m *modelCrossReferencer) CrossReference(ctx context.Context, deal research.DealRecord) (research.ValidationResult, error) {
	return m.layers.verify(ctx, crossRefSystemPrompt, deal, nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// Wire helpers
// ─────────────────────────────────────────────────────────────────────────────

func verificationPayload(system string, deal research.DealRecord, rc *research.ResearchContext) (*structpb.Struct, error) {
	dealJSON, err := json.Marshal(deal)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshal deal record")
	}
	dealStruct, err := common.StructFromJSON(dealJSON)
	if err != nil {
		return nil, err
	}

	fields := map[string]*structpb.Value{
		"system": structpb.NewStringValue(system),
		"deal":   structpb.NewStructValue(dealStruct),
	}
	if rc != nil {
		ctxStruct, err := structpb.NewStruct(map[string]interface{}{
			"target":           rc.Target,
			"indication":       rc.Indication,
			"therapeutic_area": rc.TherapeuticArea.Name,
			"region":           rc.Geography.Region,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "verification context")
		}
		fields["context"] = structpb.NewStructValue(ctxStruct)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func decodeValidationResult(resp *common.InvokeResponse) (research.ValidationResult, error) {
	body, err := resp.Body()
	if err != nil {
		return research.ValidationResult{}, errors.Wrap(err, errors.ErrCodeValidationLayerFailed, "verification reply unreadable")
	}
	var v research.ValidationResult
	if err := json.Unmarshal(extractJSON(body), &v); err != nil {
		return research.ValidationResult{}, errors.Wrap(err, errors.ErrCodeValidationLayerFailed, "verification reply is not the expected JSON shape")
	}
	v.Score = clamp(v.Score, 0, 100)
	v.Confidence = clamp(v.Confidence, 0, 1)
	return v, nil
}

// extractJSON trims prose and code fences around the outermost JSON object
// in a model reply. Replies that carry no object pass through unchanged and
// fail at unmarshal with the original text in the error.
func extractJSON(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return []byte(s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

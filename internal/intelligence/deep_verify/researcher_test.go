package deep_verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RxMarket-Intelligence/internal/intelligence/common"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

const dealSheetReply = `{
  "deals": [
    {
      "acquirer": "AlphaBio",
      "asset": "ALB-101",
      "indication": "NSCLC",
      "rationale": "KRAS franchise expansion",
      "announced_date": "2024-11-05",
      "value_usd": 1900000000,
      "stage": "approved",
      "sources": [
        {"title": "AlphaBio press release", "url": "https://example.com/pr", "type": "primary", "year": 2024, "authority": "AlphaBio"},
        {"title": "8-K filing", "url": "https://example.com/8k", "type": "primary", "year": 2024, "authority": "SEC"},
        {"title": "Deal tracker entry", "url": "https://example.com/db", "type": "database", "year": 2024, "authority": "Evaluate"}
      ]
    },
    {
      "acquirer": "BetaRx",
      "asset": "BRX-7",
      "indication": "NSCLC",
      "rationale": "pipeline gap in oncology",
      "announced_date": "2023-06-12",
      "value_usd": 850000000,
      "stage": "phase3",
      "sources": [
        {"title": "BetaRx announcement", "url": "https://example.com/beta", "type": "primary", "year": 2023, "authority": "BetaRx"}
      ]
    }
  ]
}`

func newTestResearcher(t *testing.T, backend common.ModelBackend) DealResearcher {
	t.Helper()
	r, err := NewModelResearcher(backend, "research-1", nil)
	require.NoError(t, err)
	return r
}

func TestNewModelResearcherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewModelResearcher(nil, "research-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))

	_, err = NewModelResearcher(&common.MockBackend{}, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))
}

func TestResearchDealsParsesSheet(t *testing.T) {
	t.Parallel()

	backend := &common.MockBackend{InvokeFunc: func(ctx context.Context, req *common.InvokeRequest) (*common.InvokeResponse, error) {
		assert.Equal(t, common.TaskGenerate, req.Task)
		assert.Equal(t, "research-1", req.Model)
		assert.Equal(t, "run-11", req.Metadata["correlation_id"])

		assert.Contains(t, req.Payload.Fields["system"].GetStringValue(), "business-development researcher")
		prompt := req.Payload.Fields["prompt"].GetStringValue()
		assert.Contains(t, prompt, "KRAS G12C")
		assert.Contains(t, prompt, "counterparties")
		assert.Contains(t, prompt, "at least 3 sources")
		cfg := req.Payload.Fields["config"].GetStructValue()
		require.NotNil(t, cfg)
		assert.Equal(t, string(SpecificityVerySpecific), cfg.Fields["specificity"].GetStringValue())

		return &common.InvokeResponse{Model: req.Model, Raw: dealSheetReply}, nil
	}}

	deals, err := newTestResearcher(t, backend).ResearchDeals(context.Background(), DealQuery{
		Context:     verifyContext(),
		Specificity: SpecificityVerySpecific,
		Attempt:     3,
		MinSources:  3,
	})
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, "AlphaBio", deals[0].Acquirer)
	assert.Equal(t, 1_900_000_000.0, deals[0].ValueUSD)
	assert.Len(t, deals[0].Sources, 3)
	assert.Equal(t, "BetaRx", deals[1].Acquirer)
}

func TestResearchDealsTruncatesToMaxResults(t *testing.T) {
	t.Parallel()

	backend := &common.MockBackend{InvokeFunc: func(ctx context.Context, req *common.InvokeRequest) (*common.InvokeResponse, error) {
		return &common.InvokeResponse{Model: req.Model, Raw: dealSheetReply}, nil
	}}

	deals, err := newTestResearcher(t, backend).ResearchDeals(context.Background(), DealQuery{
		Context:     verifyContext(),
		Specificity: SpecificityBroad,
		MaxResults:  1,
		MinSources:  3,
	})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "AlphaBio", deals[0].Acquirer)
}

func TestResearchDealsFencedReply(t *testing.T) {
	t.Parallel()

	backend := &common.MockBackend{InvokeFunc: func(ctx context.Context, req *common.InvokeRequest) (*common.InvokeResponse, error) {
		return &common.InvokeResponse{Model: req.Model, Raw: "```json\n" + dealSheetReply + "\n```"}, nil
	}}

	deals, err := newTestResearcher(t, backend).ResearchDeals(context.Background(), DealQuery{Context: verifyContext(), MinSources: 3})
	require.NoError(t, err)
	assert.Len(t, deals, 2)
}

func TestResearchDealsMalformedReply(t *testing.T) {
	t.Parallel()

	backend := &common.MockBackend{InvokeFunc: func(ctx context.Context, req *common.InvokeRequest) (*common.InvokeResponse, error) {
		return &common.InvokeResponse{Model: req.Model, Raw: "I could not find any deals."}, nil
	}}

	_, err := newTestResearcher(t, backend).ResearchDeals(context.Background(), DealQuery{Context: verifyContext(), MinSources: 3})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMalformedCandidate))
}

func TestResearchDealsBackendErrorPassesThrough(t *testing.T) {
	t.Parallel()

	backend := &common.MockBackend{InvokeFunc: func(ctx context.Context, req *common.InvokeRequest) (*common.InvokeResponse, error) {
		return nil, errors.New(errors.ErrCodeGenerationUnavailable, "serving backend down")
	}}

	_, err := newTestResearcher(t, backend).ResearchDeals(context.Background(), DealQuery{Context: verifyContext(), MinSources: 3})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeGenerationUnavailable))
}

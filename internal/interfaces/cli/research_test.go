package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appresearch "github.com/turtacn/RxMarket-Intelligence/internal/application/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

type fakeService struct {
	executeFn func(ctx context.Context, req *appresearch.Request) (*research.EngineResult, error)
}

func (f *fakeService) Execute(ctx context.Context, req *appresearch.Request) (*research.EngineResult, error) {
	if f.executeFn != nil {
		return f.executeFn(ctx, req)
	}
	return acceptedResult(), nil
}

func (f *fakeService) Healthy(context.Context) error { return nil }

func acceptedResult() *research.EngineResult {
	return &research.EngineResult{
		CorrelationID: common.CorrelationID("run-42"),
		Outcome:       research.OutcomeAccepted,
		OverallScore:  91.5,
		Assessment:    research.QualityAssessment{Confidence: 0.83},
		RetryCount:    1,
		SourceCount:   6,
		Elapsed:       1500 * time.Millisecond,
		Deals: []research.DealResearchResult{{
			Acquirer:        "AlphaBio",
			Asset:           "ALB-101",
			Indication:      "NSCLC",
			Stage:           research.PhaseTwo,
			ValueUSD:        1.2e9,
			ValidationScore: 93.5,
		}},
		Attempts: []research.AttemptReview{
			{Attempt: 1, OverallScore: 72.0, Confidence: 0.60, CriticalIssues: 1},
			{Attempt: 2, OverallScore: 91.5, Confidence: 0.83, Accepted: true},
		},
	}
}

// spyFactory hands out the given service and records the request the
// command sent plus whether cleanup ran.
type spyFactory struct {
	svc      *fakeService
	buildErr error
	built    bool
	cleaned  bool
	lastReq  *appresearch.Request
}

func (s *spyFactory) factory() ServiceFactory {
	return func(_ context.Context, cfg *config.Config, _ logging.Logger) (appresearch.Service, func(), error) {
		if s.buildErr != nil {
			return nil, nil, s.buildErr
		}
		s.built = true
		inner := s.svc.executeFn
		s.svc.executeFn = func(ctx context.Context, req *appresearch.Request) (*research.EngineResult, error) {
			s.lastReq = req
			if inner != nil {
				return inner(ctx, req)
			}
			return acceptedResult(), nil
		}
		return s.svc, func() { s.cleaned = true }, nil
	}
}

func writeRequestFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestResearchRunsFromFile(t *testing.T) {
	spy := &spyFactory{svc: &fakeService{}}
	file := writeRequestFile(t, `{"target":"KRAS G12C inhibitors","indication":"NSCLC","full_depth":true}`)

	out, err := execRoot(t, CommandDependencies{NewService: spy.factory()},
		"research", "--file", file, "--output", "json")

	require.NoError(t, err)
	assert.True(t, spy.built)
	assert.True(t, spy.cleaned)
	require.NotNil(t, spy.lastReq)
	assert.Equal(t, "KRAS G12C inhibitors", spy.lastReq.Context.Target)
	assert.Equal(t, "NSCLC", spy.lastReq.Context.Indication)
	assert.True(t, spy.lastReq.Context.FullDepth)
	assert.NotEmpty(t, spy.lastReq.Context.CorrelationID)
	assert.Contains(t, out, `"outcome": "accepted"`)
}

func TestResearchFlagsOverrideFile(t *testing.T) {
	spy := &spyFactory{svc: &fakeService{}}
	file := writeRequestFile(t, `{"target":"old target","indication":"psoriasis"}`)

	_, err := execRoot(t, CommandDependencies{NewService: spy.factory()},
		"research", "-f", file, "--target", "BTK inhibitors", "--phase", "Phase2")

	require.NoError(t, err)
	require.NotNil(t, spy.lastReq)
	assert.Equal(t, "BTK inhibitors", spy.lastReq.Context.Target)
	assert.Equal(t, "psoriasis", spy.lastReq.Context.Indication)
	assert.Equal(t, research.PhaseTwo, spy.lastReq.Context.Phase)
}

func TestResearchRequiresTarget(t *testing.T) {
	spy := &spyFactory{svc: &fakeService{}}

	_, err := execRoot(t, CommandDependencies{NewService: spy.factory()},
		"research", "--indication", "NSCLC")

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeResearchContextInvalid))
	assert.False(t, spy.built)
}

func TestResearchRequiresIndication(t *testing.T) {
	spy := &spyFactory{svc: &fakeService{}}

	_, err := execRoot(t, CommandDependencies{NewService: spy.factory()},
		"research", "--target", "KRAS G12C inhibitors")

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeResearchContextInvalid))
}

func TestResearchRejectsMalformedFile(t *testing.T) {
	spy := &spyFactory{svc: &fakeService{}}
	file := writeRequestFile(t, `{not json`)

	_, err := execRoot(t, CommandDependencies{NewService: spy.factory()},
		"research", "-f", file)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

func TestResearchSurfacesFactoryFailure(t *testing.T) {
	spy := &spyFactory{
		svc:      &fakeService{},
		buildErr: errors.New(errors.ErrCodeConfiguration, "backend address missing"),
	}

	_, err := execRoot(t, CommandDependencies{NewService: spy.factory()},
		"research", "--target", "x", "--indication", "y")

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))
}

func TestResearchTextSummary(t *testing.T) {
	res := acceptedResult()
	res.BelowThreshold = true
	res.Outcome = research.OutcomeExhausted
	spy := &spyFactory{svc: &fakeService{
		executeFn: func(context.Context, *appresearch.Request) (*research.EngineResult, error) {
			return res, nil
		},
	}}

	out, err := execRoot(t, CommandDependencies{NewService: spy.factory()},
		"research", "--target", "x", "--indication", "y")

	require.NoError(t, err)
	assert.Contains(t, out, "Outcome:        exhausted")
	assert.Contains(t, out, "Overall score:  91.5")
	assert.Contains(t, out, "WARNING: best-effort result below the quality threshold.")
	assert.Contains(t, out, "ACQUIRER")
	assert.Contains(t, out, "AlphaBio")
	assert.Contains(t, out, "$1.2B")
	assert.Contains(t, out, "ATTEMPT")
}

func TestFormatValueUSD(t *testing.T) {
	assert.Equal(t, "$1.2B", formatValueUSD(1.2e9))
	assert.Equal(t, "$850.0M", formatValueUSD(8.5e8))
	assert.Equal(t, "$75000", formatValueUSD(75000))
	assert.Equal(t, "undisclosed", formatValueUSD(0))
}

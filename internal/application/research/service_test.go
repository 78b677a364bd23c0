package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Port fakes
// ---------------------------------------------------------------------------

type fakeOrchestrator struct {
	requests  []*Request
	result    *domainResearch.EngineResult
	err       error
	healthErr error
}

func (f *fakeOrchestrator) Run(_ context.Context, req *Request) (*domainResearch.EngineResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeOrchestrator) Healthy(context.Context) error { return f.healthErr }

type fakeCache struct {
	stored map[string]*domainResearch.EngineResult
	getErr error
	setErr error
	gets   []string
	sets   []string
}

func (f *fakeCache) Get(_ context.Context, fingerprint string) (*domainResearch.EngineResult, bool, error) {
	f.gets = append(f.gets, fingerprint)
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	res, ok := f.stored[fingerprint]
	return res, ok, nil
}

func (f *fakeCache) Set(_ context.Context, fingerprint string, res *domainResearch.EngineResult) error {
	f.sets = append(f.sets, fingerprint)
	if f.setErr != nil {
		return f.setErr
	}
	if f.stored == nil {
		f.stored = map[string]*domainResearch.EngineResult{}
	}
	f.stored[fingerprint] = res
	return nil
}

type fakeAudit struct {
	saved []*domainResearch.EngineResult
	err   error
}

func (f *fakeAudit) SaveRun(_ context.Context, _ domainResearch.ResearchContext, res *domainResearch.EngineResult) error {
	f.saved = append(f.saved, res)
	return f.err
}

type fakeEvents struct {
	published []*domainResearch.EngineResult
	err       error
}

func (f *fakeEvents) PublishResult(_ context.Context, _ domainResearch.ResearchContext, res *domainResearch.EngineResult) error {
	f.published = append(f.published, res)
	return f.err
}

type fakeArchive struct {
	archived []*domainResearch.EngineResult
	key      string
	err      error
}

func (f *fakeArchive) ArchiveResult(_ context.Context, _ domainResearch.ResearchContext, res *domainResearch.EngineResult) (string, error) {
	f.archived = append(f.archived, res)
	if f.err != nil {
		return "", f.err
	}
	return f.key, nil
}

type fakeIndex struct {
	indexed []*domainResearch.EngineResult
	err     error
}

func (f *fakeIndex) IndexResult(_ context.Context, _ domainResearch.ResearchContext, res *domainResearch.EngineResult) error {
	f.indexed = append(f.indexed, res)
	return f.err
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func engineResult(outcome domainResearch.RunOutcome, overall float64) *domainResearch.EngineResult {
	return &domainResearch.EngineResult{
		CorrelationID:  "run-42",
		Outcome:        outcome,
		Document:       *runCandidate("served", 0),
		OverallScore:   overall,
		Elapsed:        1500 * time.Millisecond,
		SourceCount:    5,
		BelowThreshold: outcome != domainResearch.OutcomeAccepted,
		Attempts: []domainResearch.AttemptReview{{
			Attempt:      0,
			OverallScore: overall,
			Confidence:   0.9,
			Accepted:     outcome == domainResearch.OutcomeAccepted,
		}},
	}
}

type serviceFixture struct {
	svc     Service
	orch    *fakeOrchestrator
	cache   *fakeCache
	audit   *fakeAudit
	events  *fakeEvents
	archive *fakeArchive
	index   *fakeIndex
}

func newServiceFixture(t *testing.T, orch *fakeOrchestrator) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		orch:    orch,
		cache:   &fakeCache{},
		audit:   &fakeAudit{},
		events:  &fakeEvents{},
		archive: &fakeArchive{key: "runs/run-42.json"},
		index:   &fakeIndex{},
	}
	svc, err := NewService(ServiceConfig{Origin: "test"}, ServiceDeps{
		Orchestrator: orch,
		Cache:        f.cache,
		Audit:        f.audit,
		Events:       f.events,
		Archive:      f.archive,
		Index:        f.index,
		Logger:       logging.NewNopLogger(),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServiceRequiresOrchestrator(t *testing.T) {
	t.Parallel()

	_, err := NewService(ServiceConfig{}, ServiceDeps{})
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))
}

func TestExecuteServesFromCache(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{result: engineResult(domainResearch.OutcomeAccepted, 92)}
	f := newServiceFixture(t, orch)

	cached := engineResult(domainResearch.OutcomeAccepted, 91)
	cached.CorrelationID = "old-run"
	fingerprint := runContext(false).Fingerprint()
	f.cache.stored = map[string]*domainResearch.EngineResult{fingerprint: cached}

	res, err := f.svc.Execute(context.Background(), &Request{Context: runContext(false)})
	require.NoError(t, err)

	require.True(t, res.CacheHit)
	require.Equal(t, "run-42", string(res.CorrelationID))
	require.InDelta(t, 91, res.OverallScore, 0.001)
	require.Empty(t, orch.requests)

	// The cached entry itself keeps its original identity.
	require.False(t, cached.CacheHit)
	require.Equal(t, "old-run", string(cached.CorrelationID))
}

func TestExecuteRunsAndRecordsAcceptedResults(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{result: engineResult(domainResearch.OutcomeAccepted, 92)}
	f := newServiceFixture(t, orch)

	res, err := f.svc.Execute(context.Background(), &Request{Context: runContext(false)})
	require.NoError(t, err)

	require.Equal(t, domainResearch.OutcomeAccepted, res.Outcome)
	require.Len(t, orch.requests, 1)
	require.Len(t, f.audit.saved, 1)
	require.Len(t, f.events.published, 1)
	require.Len(t, f.archive.archived, 1)
	require.Len(t, f.index.indexed, 1)

	fingerprint := runContext(false).Fingerprint()
	require.Equal(t, []string{fingerprint}, f.cache.sets)
}

func TestExecuteDoesNotCacheBelowThreshold(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{result: engineResult(domainResearch.OutcomeExhausted, 84)}
	f := newServiceFixture(t, orch)

	res, err := f.svc.Execute(context.Background(), &Request{Context: runContext(false)})
	require.NoError(t, err)

	require.Equal(t, domainResearch.OutcomeExhausted, res.Outcome)
	require.Empty(t, f.cache.sets)
	require.Empty(t, f.archive.archived)
	require.Empty(t, f.index.indexed)

	// The audit trail and the event bus still see every terminal run.
	require.Len(t, f.audit.saved, 1)
	require.Len(t, f.events.published, 1)
}

func TestExecuteToleratesSideEffectFailures(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{result: engineResult(domainResearch.OutcomeAccepted, 92)}
	f := newServiceFixture(t, orch)
	f.cache.setErr = errors.New(errors.ErrCodeExternalService, "redis down")
	f.audit.err = errors.New(errors.ErrCodeExternalService, "postgres down")
	f.events.err = errors.New(errors.ErrCodeExternalService, "kafka down")
	f.archive.err = errors.New(errors.ErrCodeExternalService, "minio down")
	f.index.err = errors.New(errors.ErrCodeExternalService, "opensearch down")

	res, err := f.svc.Execute(context.Background(), &Request{Context: runContext(false)})
	require.NoError(t, err)
	require.Equal(t, domainResearch.OutcomeAccepted, res.Outcome)
}

func TestExecuteFallsThroughOnCacheReadFailure(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{result: engineResult(domainResearch.OutcomeAccepted, 92)}
	f := newServiceFixture(t, orch)
	f.cache.getErr = errors.New(errors.ErrCodeExternalService, "redis down")

	res, err := f.svc.Execute(context.Background(), &Request{Context: runContext(false)})
	require.NoError(t, err)
	require.False(t, res.CacheHit)
	require.Len(t, orch.requests, 1)
}

func TestExecutePropagatesRunError(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{err: errors.New(errors.ErrCodeGenerationUnavailable, "backend down")}
	f := newServiceFixture(t, orch)

	_, err := f.svc.Execute(context.Background(), &Request{Context: runContext(false)})
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.ErrCodeGenerationUnavailable))

	// A failed run produces no side effects.
	require.Empty(t, f.audit.saved)
	require.Empty(t, f.events.published)
}

func TestExecuteValidatesRequest(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, &fakeOrchestrator{result: engineResult(domainResearch.OutcomeAccepted, 92)})

	_, err := f.svc.Execute(context.Background(), nil)
	require.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	rc := runContext(false)
	rc.Target = ""
	_, err = f.svc.Execute(context.Background(), &Request{Context: rc})
	require.True(t, errors.IsCode(err, errors.ErrCodeResearchContextInvalid))
	require.Empty(t, f.orch.requests)
}

func TestExecuteFillsCorrelationID(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{result: engineResult(domainResearch.OutcomeAccepted, 92)}
	f := newServiceFixture(t, orch)

	rc := runContext(false)
	rc.CorrelationID = ""
	_, err := f.svc.Execute(context.Background(), &Request{Context: rc})
	require.NoError(t, err)
	require.Len(t, orch.requests, 1)
	require.NotEmpty(t, orch.requests[0].Context.CorrelationID)
}

func TestServiceHealthyDelegates(t *testing.T) {
	t.Parallel()

	healthy := newServiceFixture(t, &fakeOrchestrator{})
	require.NoError(t, healthy.svc.Healthy(context.Background()))

	down := newServiceFixture(t, &fakeOrchestrator{
		healthErr: errors.New(errors.ErrCodeScoringUnavailable, "scoring down"),
	})
	err := down.svc.Healthy(context.Background())
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.ErrCodeScoringUnavailable))
}

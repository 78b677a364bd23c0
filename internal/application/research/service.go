package research

import (
	"context"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	prom "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// ---------------------------------------------------------------------------
// Side-channel ports
// ---------------------------------------------------------------------------

// ResultCache stores accepted results keyed by the context fingerprint.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (*domainResearch.EngineResult, bool, error)
	Set(ctx context.Context, fingerprint string, res *domainResearch.EngineResult) error
}

// AuditStore persists every terminal run with its attempt trail.
type AuditStore interface {
	SaveRun(ctx context.Context, rc domainResearch.ResearchContext, res *domainResearch.EngineResult) error
}

// EventPublisher announces terminal run outcomes on the event bus.
type EventPublisher interface {
	PublishResult(ctx context.Context, rc domainResearch.ResearchContext, res *domainResearch.EngineResult) error
}

// DocumentArchiver stores accepted result documents in object storage and
// returns the object key.
type DocumentArchiver interface {
	ArchiveResult(ctx context.Context, rc domainResearch.ResearchContext, res *domainResearch.EngineResult) (string, error)
}

// EvidenceIndexer makes accepted documents searchable so later runs can
// cross-reference them.
type EvidenceIndexer interface {
	IndexResult(ctx context.Context, rc domainResearch.ResearchContext, res *domainResearch.EngineResult) error
}

// ---------------------------------------------------------------------------
// Application service
// ---------------------------------------------------------------------------

// Service executes research requests end to end: answer from cache when
// possible, orchestrate otherwise, then persist, publish, archive, and
// index the outcome.
type Service interface {
	Execute(ctx context.Context, req *Request) (*domainResearch.EngineResult, error)
	Healthy(ctx context.Context) error
}

// ServiceConfig labels the service for observability.
type ServiceConfig struct {
	// Origin tags run metrics with the surface driving the request, e.g.
	// "worker" or "cli".
	Origin string
}

// ServiceDeps wires the service. Orchestrator is required; every side
// channel is optional and skipped when absent.
type ServiceDeps struct {
	Orchestrator Orchestrator
	Cache        ResultCache
	Audit        AuditStore
	Events       EventPublisher
	Archive      DocumentArchiver
	Index        EvidenceIndexer
	Metrics      *prom.AppMetrics
	Logger       logging.Logger
}

type service struct {
	origin  string
	orch    Orchestrator
	cache   ResultCache
	audit   AuditStore
	events  EventPublisher
	archive DocumentArchiver
	index   EvidenceIndexer
	metrics *prom.AppMetrics
	logger  logging.Logger
}

// NewService builds the application service around an orchestrator.
func NewService(cfg ServiceConfig, deps ServiceDeps) (Service, error) {
	if deps.Orchestrator == nil {
		return nil, errors.New(errors.ErrCodeConfiguration, "orchestrator is required")
	}
	if cfg.Origin == "" {
		cfg.Origin = "direct"
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &service{
		origin:  cfg.Origin,
		orch:    deps.Orchestrator,
		cache:   deps.Cache,
		audit:   deps.Audit,
		events:  deps.Events,
		archive: deps.Archive,
		index:   deps.Index,
		metrics: deps.Metrics,
		logger:  deps.Logger.Named("research_service"),
	}, nil
}

func (s *service) Execute(ctx context.Context, req *Request) (*domainResearch.EngineResult, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeValidation, "research request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run := *req
	if run.Context.CorrelationID == "" {
		run.Context.CorrelationID = common.NewCorrelationID()
	}

	fingerprint := run.Context.Fingerprint()
	if cached, ok := s.lookup(ctx, fingerprint); ok {
		// The stored result keeps its original identity; the copy handed
		// out carries the caller's correlation ID and the hit flag.
		out := *cached
		out.CacheHit = true
		out.CorrelationID = run.Context.CorrelationID
		s.logger.Info("research served from cache",
			logging.String("correlation_id", string(out.CorrelationID)),
			logging.String("fingerprint", fingerprint),
			logging.Float64("overall", out.OverallScore),
		)
		return &out, nil
	}

	res, err := s.orch.Run(ctx, &run)
	if err != nil {
		return nil, err
	}

	s.finish(ctx, run.Context, fingerprint, res)
	return res, nil
}

func (s *service) Healthy(ctx context.Context) error {
	return s.orch.Healthy(ctx)
}

// lookup reads the result cache. Cache trouble is a miss, never a failure.
func (s *service) lookup(ctx context.Context, fingerprint string) (*domainResearch.EngineResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	res, ok, err := s.cache.Get(ctx, fingerprint)
	if err != nil {
		s.logger.Warn("result cache read failed",
			logging.String("fingerprint", fingerprint),
			logging.Err(err),
		)
		return nil, false
	}
	if !ok || res == nil {
		return nil, false
	}
	return res, true
}

// finish applies the side effects of a terminal run. Every channel is best
// effort: the research outcome is already decided, and a persistence or
// publish failure must not turn a finished run into an error. Only accepted
// results are archived, indexed, and cached; a below-threshold document
// must never be served as if it had passed.
func (s *service) finish(ctx context.Context, rc domainResearch.ResearchContext, fingerprint string, res *domainResearch.EngineResult) {
	cid := logging.String("correlation_id", string(res.CorrelationID))

	if s.audit != nil {
		if err := s.audit.SaveRun(ctx, rc, res); err != nil {
			s.logger.Error("research run not persisted", cid,
				logging.Err(errors.Wrap(err, errors.ErrCodeResearchPersistFailed, "audit store")))
		}
	}
	if s.events != nil {
		if err := s.events.PublishResult(ctx, rc, res); err != nil {
			s.logger.Warn("research event not published", cid,
				logging.Err(errors.Wrap(err, errors.ErrCodeResearchEventFailed, "event bus")))
		}
	}

	if res.Outcome == domainResearch.OutcomeAccepted {
		if s.archive != nil {
			key, err := s.archive.ArchiveResult(ctx, rc, res)
			if err != nil {
				s.logger.Warn("research document not archived", cid,
					logging.Err(errors.Wrap(err, errors.ErrCodeResearchArchiveFailed, "document archive")))
			} else {
				s.logger.Debug("research document archived", cid, logging.String("object_key", key))
			}
		}
		if s.index != nil {
			if err := s.index.IndexResult(ctx, rc, res); err != nil {
				s.logger.Warn("research document not indexed", cid, logging.Err(err))
			}
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, fingerprint, res); err != nil {
				s.logger.Warn("result cache write failed", cid, logging.Err(err))
			}
		}
	}

	prom.RecordResearchRun(s.metrics, s.origin, string(res.Outcome), depthLabel(rc), len(res.Attempts), res.Elapsed)
	s.logger.Info("research run finished", cid,
		logging.String("outcome", string(res.Outcome)),
		logging.Float64("overall", res.OverallScore),
		logging.Int("attempts", len(res.Attempts)),
		logging.Int("sources", res.SourceCount),
		logging.Duration("elapsed", res.Elapsed),
		logging.Bool("below_threshold", res.BelowThreshold),
	)
}

func depthLabel(rc domainResearch.ResearchContext) string {
	if rc.FullDepth {
		return "full"
	}
	return "standard"
}

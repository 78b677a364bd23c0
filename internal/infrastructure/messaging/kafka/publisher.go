package kafka

import (
	"context"
	"time"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	prom "github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// EventPublisher is the event-bus adapter for the research service. Messages
// are keyed by fingerprint so all events for one research identity stay
// ordered on a single partition.
type EventPublisher struct {
	producer *Producer
	metrics  *prom.AppMetrics
	logger   logging.Logger
	source   string
}

type EventPublisherOption func(*EventPublisher)

// WithSource overrides the envelope source service name.
func WithSource(source string) EventPublisherOption {
	return func(p *EventPublisher) { p.source = source }
}

func NewEventPublisher(producer *Producer, metrics *prom.AppMetrics, log logging.Logger, opts ...EventPublisherOption) (*EventPublisher, error) {
	if producer == nil {
		return nil, errors.New(errors.ErrCodeValidation, "producer is required")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	p := &EventPublisher{
		producer: producer,
		metrics:  metrics,
		logger:   log.Named("event_publisher"),
		source:   "rxmi",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PublishRequest queues a research context for asynchronous execution by a
// worker.
func (p *EventPublisher) PublishRequest(ctx context.Context, rc domainResearch.ResearchContext, origin string) error {
	payload := ResearchRequestedPayload{
		Context:     rc,
		Origin:      origin,
		RequestedAt: time.Now().UTC(),
	}
	err := p.publish(ctx, TopicResearchRequested, string(rc.CorrelationID), rc.Fingerprint(), payload)
	prom.RecordEventPublished(p.metrics, TopicResearchRequested, err)
	return err
}

// PublishResult announces a terminal run outcome. Accepted runs go to the
// completed topic, exhausted and failed runs to the exhausted topic.
func (p *EventPublisher) PublishResult(ctx context.Context, rc domainResearch.ResearchContext, res *domainResearch.EngineResult) error {
	if res == nil {
		return errors.New(errors.ErrCodeValidation, "result is required")
	}

	topic := TopicResearchExhausted
	if res.Outcome == domainResearch.OutcomeAccepted {
		topic = TopicResearchCompleted
	}

	payload := ResearchResultPayload{
		CorrelationID:  string(res.CorrelationID),
		Fingerprint:    rc.Fingerprint(),
		Target:         rc.Target,
		Indication:     rc.Indication,
		Outcome:        string(res.Outcome),
		OverallScore:   res.OverallScore,
		RetryCount:     res.RetryCount,
		SourceCount:    res.SourceCount,
		BelowThreshold: res.BelowThreshold,
		ElapsedMs:      res.Elapsed.Milliseconds(),
		CompletedAt:    time.Now().UTC(),
	}
	err := p.publish(ctx, topic, string(res.CorrelationID), rc.Fingerprint(), payload)
	prom.RecordEventPublished(p.metrics, topic, err)
	return err
}

func (p *EventPublisher) publish(ctx context.Context, topic, traceID, key string, payload interface{}) error {
	env, err := NewEventEnvelope(topic, p.source, payload)
	if err != nil {
		return err
	}
	env.TraceID = traceID

	msg, err := env.ToMessage(topic)
	if err != nil {
		return err
	}
	msg.Key = []byte(key)

	if err := p.producer.Publish(ctx, msg); err != nil {
		return err
	}
	p.logger.Debug("event published",
		logging.String("topic", topic),
		logging.String("event_id", env.EventID),
	)
	return nil
}

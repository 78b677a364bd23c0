package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	domainResearch "github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// Topic constants
const (
	TopicResearchRequested  = "research.requested"
	TopicResearchCompleted  = "research.completed"
	TopicResearchExhausted  = "research.exhausted"
	TopicDeadLetterResearch = "dead_letter.research"
)

// EventEnvelope standardizes event messages on the bus.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ResearchRequestedPayload asks a worker to run the engine for a context.
type ResearchRequestedPayload struct {
	Context     domainResearch.ResearchContext `json:"context"`
	Origin      string                         `json:"origin"`
	RequestedAt time.Time                      `json:"requested_at"`
}

// ResearchResultPayload announces a terminal run outcome. Accepted runs go
// to research.completed, exhausted and failed runs to research.exhausted.
type ResearchResultPayload struct {
	CorrelationID  string    `json:"correlation_id"`
	Fingerprint    string    `json:"fingerprint"`
	Target         string    `json:"target"`
	Indication     string    `json:"indication"`
	Outcome        string    `json:"outcome"`
	OverallScore   float64   `json:"overall_score"`
	RetryCount     int       `json:"retry_count"`
	SourceCount    int       `json:"source_count"`
	BelowThreshold bool      `json:"below_threshold"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Envelope helpers

func NewEventEnvelope(eventType string, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "envelope payload is empty")
	}
	return json.Unmarshal(e.Payload, target)
}

func (e *EventEnvelope) ToMessage(topic string) (*ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		"event_type":     e.EventType,
		"source_service": e.Source,
		"schema_version": e.SchemaVersion,
	}
	if e.TraceID != "" {
		headers["trace_id"] = e.TraceID
	}
	return &ProducerMessage{
		Topic:     topic,
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}, nil
}

func MessageToEventEnvelope(msg *Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
	MaxMessageBytes   int
	Configs           map[string]string
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	DeleteTopics(topics ...string) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates and inspects topics on the cluster.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to dial kafka")
	}
	return &TopicManager{
		conn:   conn,
		logger: logger.Named("topic_manager"),
	}, nil
}

func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 {
		return errors.New(errors.ErrCodeValidation, "NumPartitions must be > 0")
	}
	if cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "ReplicationFactor must be > 0")
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
		ConfigEntries:     make([]kafka.ConfigEntry, 0),
	}

	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", cfg.RetentionMs)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}
	if cfg.MaxMessageBytes > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "max.message.bytes", ConfigValue: fmt.Sprintf("%d", cfg.MaxMessageBytes)})
	}
	for k, v := range cfg.Configs {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		// Brokers answer racing creates inconsistently; existence settles it.
		exists, _ := m.TopicExists(ctx, cfg.Name)
		if exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create topic")
	}
	m.logger.Info("topic created", logging.String("topic", cfg.Name))
	return nil
}

func (m *TopicManager) DeleteTopic(ctx context.Context, name string) error {
	if err := m.conn.DeleteTopics(name); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete topic")
	}
	m.logger.Warn("topic deleted", logging.String("topic", name))
	return nil
}

func (m *TopicManager) TopicExists(ctx context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

func (m *TopicManager) ListTopics(ctx context.Context) ([]string, error) {
	partitions, err := m.conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read partitions")
	}

	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !seen[p.Topic] {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) EnsureDefaultTopics(ctx context.Context) error {
	return m.EnsureTopics(ctx, DefaultTopics())
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

func DefaultTopics() []TopicConfig {
	return []TopicConfig{
		{Name: TopicResearchRequested, NumPartitions: 12, ReplicationFactor: 3, RetentionMs: 7 * 24 * 3600 * 1000},
		{Name: TopicResearchCompleted, NumPartitions: 6, ReplicationFactor: 3, RetentionMs: 30 * 24 * 3600 * 1000},
		{Name: TopicResearchExhausted, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 30 * 24 * 3600 * 1000},
		{Name: TopicDeadLetterResearch, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 30 * 24 * 3600 * 1000},
	}
}

// Package common holds the small set of platform-wide types shared by every
// layer: identifiers, timestamps, health descriptors, and event plumbing.
package common

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID is a string alias for UUID v4.
type ID string

// CorrelationID traces one research request across attempts, persistence,
// events, and archive objects.
type CorrelationID string

// TenantID is a string alias for a tenant identifier.
type TenantID string

// Metadata is an open-ended key-value bag.
type Metadata map[string]interface{}

// Timestamp is a time.Time alias with ISO 8601 JSON serialization.
type Timestamp time.Time

// NewID generates a new UUID v4.
func NewID() ID {
	return ID(uuid.New().String())
}

// NewCorrelationID generates a correlation identifier for one research request.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// GenerateID generates a unique ID with an optional prefix.
func GenerateID(prefix string) string {
	if prefix == "" {
		return uuid.New().String()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// Validate checks if the ID is a valid UUID.
func (id ID) Validate() error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if _, err := uuid.Parse(string(id)); err != nil {
		return fmt.Errorf("invalid ID format: %w", err)
	}
	return nil
}

// NewTimestamp returns the current UTC time as a Timestamp.
func NewTimestamp() Timestamp {
	return Timestamp(time.Now().UTC())
}

// ToUnixMilli returns the timestamp in milliseconds since Unix epoch.
func (t Timestamp) ToUnixMilli() int64 {
	return time.Time(t).UnixMilli()
}

// FromUnixMilli converts milliseconds since Unix epoch to a Timestamp.
func FromUnixMilli(msec int64) Timestamp {
	return Timestamp(time.UnixMilli(msec).UTC())
}

// MarshalJSON implements json.Marshaler, using ISO 8601 format.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// HealthStatus indicates the health of a component or service.
type HealthStatus string

const (
	HealthUp       HealthStatus = "up"
	HealthDown     HealthStatus = "down"
	HealthDegraded HealthStatus = "degraded"
)

// ComponentHealth provides health information for a specific component,
// reported by the worker's readiness endpoint.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// MessageHandler processes one consumed message.  Returning a non-nil error
// sends the message to the dead-letter topic after the retry budget.
type MessageHandler func(ctx context.Context, topic string, key, value []byte) error

// DomainEvent represents a significant event in the domain.
type DomainEvent interface {
	EventID() string
	OccurredAt() time.Time
	AggregateID() string
}

// BaseEvent provides common fields for domain events.
type BaseEvent struct {
	ID        string    `json:"event_id"`
	Timestamp time.Time `json:"occurred_at"`
	AggID     string    `json:"aggregate_id"`
}

func NewBaseEvent(aggID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		AggID:     aggID,
	}
}

func (e BaseEvent) EventID() string {
	return e.ID
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func (e BaseEvent) AggregateID() string {
	return e.AggID
}

// ContextKey is the type for request-scoped context keys.
type ContextKey string

const (
	// ContextKeyCorrelationID is the context key for the research correlation ID.
	ContextKeyCorrelationID ContextKey = "correlation_id"
	// ContextKeyTenantID is the context key for tenant ID.
	ContextKeyTenantID ContextKey = "tenant_id"
)

// CorrelationFromContext extracts the correlation ID from ctx, generating a
// fresh one when absent so downstream layers always have a trace handle.
func CorrelationFromContext(ctx context.Context) CorrelationID {
	if v, ok := ctx.Value(ContextKeyCorrelationID).(CorrelationID); ok && v != "" {
		return v
	}
	return NewCorrelationID()
}

// WithCorrelation returns a child context carrying the correlation ID.
func WithCorrelation(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationID, id)
}

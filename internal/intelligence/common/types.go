// Package common holds the plumbing shared by the intelligence modules:
// the model backend abstraction, its wire envelope, and a bounded fan-out
// helper for parallel verification calls.
package common

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Task types
// ---------------------------------------------------------------------------

// TaskType identifies which model capability an invocation exercises.
type TaskType string

const (
	// TaskGenerate produces a research document candidate.
	TaskGenerate TaskType = "generate"
	// TaskScore produces a quality assessment for a candidate.
	TaskScore TaskType = "score"
	// TaskVerify runs a single validation layer over a candidate claim.
	TaskVerify TaskType = "verify"
	// TaskEmbed turns text into an embedding vector for claim similarity.
	TaskEmbed TaskType = "embed"
)

// IsValid reports whether t is one of the known task types.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskGenerate, TaskScore, TaskVerify, TaskEmbed:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Request / Response
// ---------------------------------------------------------------------------

// InvokeRequest is a single call to a remote model backend. Payload carries
// the task-specific input as a structpb document so the backend contract
// stays schema-free on the wire.
type InvokeRequest struct {
	Model    string
	Task     TaskType
	Payload  *structpb.Struct
	Metadata map[string]string
}

// Validate checks that the request is complete enough to send.
func (r *InvokeRequest) Validate() error {
	if r == nil {
		return errors.New(errors.ErrCodeValidation, "invoke request is nil")
	}
	if strings.TrimSpace(r.Model) == "" {
		return errors.New(errors.ErrCodeValidation, "invoke request model is required")
	}
	if !r.Task.IsValid() {
		return errors.Newf(errors.ErrCodeValidation, "unknown task type %q", string(r.Task))
	}
	if r.Payload == nil {
		return errors.New(errors.ErrCodeValidation, "invoke request payload is required")
	}
	return nil
}

// InvokeResponse is the backend's reply. Raw carries the model's textual
// output; Structured is set when the backend already returns a structured
// document.
type InvokeResponse struct {
	Model      string
	Raw        string
	Structured *structpb.Struct
	LatencyMs  int64
	Metadata   map[string]string
}

// HasStructured reports whether the backend returned a structured document.
func (r *InvokeResponse) HasStructured() bool {
	return r != nil && r.Structured != nil && len(r.Structured.GetFields()) > 0
}

// Body returns the response content as bytes, preferring the structured
// channel when present. Parsers downstream consume this uniformly.
func (r *InvokeResponse) Body() ([]byte, error) {
	if r == nil {
		return nil, errors.New(errors.ErrCodeSerialization, "invoke response is nil")
	}
	if r.HasStructured() {
		return JSONFromStruct(r.Structured)
	}
	return []byte(r.Raw), nil
}

// ---------------------------------------------------------------------------
// Backend contract
// ---------------------------------------------------------------------------

// ModelBackend is the minimal contract the engine needs from a model
// serving endpoint. Implementations must be safe for concurrent use.
type ModelBackend interface {
	// Invoke sends one request and blocks until the backend replies or ctx
	// is done.
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)

	// Healthy reports whether the backend is reachable and serving.
	Healthy(ctx context.Context) error

	// Close releases the underlying connection. Invoke after Close fails.
	Close() error
}

// ---------------------------------------------------------------------------
// structpb helpers
// ---------------------------------------------------------------------------

// StructFromJSON converts a JSON object document into a structpb.Struct.
func StructFromJSON(data []byte) (*structpb.Struct, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "payload is not a JSON object")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "payload is not representable as a struct")
	}
	return s, nil
}

// JSONFromStruct renders a structpb.Struct back into JSON bytes.
func JSONFromStruct(s *structpb.Struct) ([]byte, error) {
	if s == nil {
		return nil, errors.New(errors.ErrCodeSerialization, "struct is nil")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "struct is not serializable")
	}
	return data, nil
}

// StringField reads a string field from a struct, empty when absent.
func StringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// NumberField reads a numeric field from a struct.
func NumberField(s *structpb.Struct, key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return v.GetNumberValue(), true
}

package common

import (
	"context"
	"sync"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// MockBackend is a test double for ModelBackend. Behavior is injected per
// test through the exported func fields; every Invoke is recorded.
type MockBackend struct {
	InvokeFunc  func(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)
	HealthyFunc func(ctx context.Context) error

	mu          sync.Mutex
	invocations []*InvokeRequest
	closed      bool
}

// Invoke records the request and delegates to InvokeFunc. Without an
// InvokeFunc it replies with an empty document.
func (m *MockBackend) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "model backend is closed")
	}
	m.invocations = append(m.invocations, req)
	m.mu.Unlock()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	return &InvokeResponse{Model: req.Model, Raw: "{}"}, nil
}

func (m *MockBackend) Healthy(ctx context.Context) error {
	if m.HealthyFunc != nil {
		return m.HealthyFunc(ctx)
	}
	return nil
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Invocations returns a copy of all recorded requests.
func (m *MockBackend) Invocations() []*InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*InvokeRequest, len(m.invocations))
	copy(out, m.invocations)
	return out
}

// InvocationCount returns how many Invoke calls were recorded.
func (m *MockBackend) InvocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invocations)
}

// InvocationsFor returns the recorded requests matching a task type.
func (m *MockBackend) InvocationsFor(task TaskType) []*InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*InvokeRequest
	for _, req := range m.invocations {
		if req != nil && req.Task == task {
			out = append(out, req)
		}
	}
	return out
}

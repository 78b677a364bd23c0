package common

import (
	"context"
	stdliberrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	payload := mustStruct(t, map[string]interface{}{"target": "KRAS G12C"})
	req := &InvokeRequest{
		Model:    "research-gpt-4",
		Task:     TaskGenerate,
		Payload:  payload,
		Metadata: map[string]string{"correlation_id": "run-1"},
	}

	env := buildEnvelope(req)
	require.NotNil(t, env)

	assert.Equal(t, "research-gpt-4", StringField(env, envFieldModel))
	assert.Equal(t, string(TaskGenerate), StringField(env, envFieldTask))

	p := env.GetFields()[envFieldPayload].GetStructValue()
	require.NotNil(t, p)
	assert.Equal(t, "KRAS G12C", StringField(p, "target"))

	md := env.GetFields()[envFieldMetadata].GetStructValue()
	require.NotNil(t, md)
	assert.Equal(t, "run-1", StringField(md, "correlation_id"))
}

func TestBuildEnvelopeOmitsEmptyMetadata(t *testing.T) {
	t.Parallel()

	env := buildEnvelope(&InvokeRequest{
		Model:   "m",
		Task:    TaskScore,
		Payload: mustStruct(t, map[string]interface{}{}),
	})
	_, present := env.GetFields()[envFieldMetadata]
	assert.False(t, present)
}

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	structured := mustStruct(t, map[string]interface{}{"overall_score": 88.0})
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		envFieldModel:      structpb.NewStringValue("scoring-gpt"),
		envFieldRaw:        structpb.NewStringValue(`{"overall_score":88}`),
		envFieldStructured: structpb.NewStructValue(structured),
		envFieldMetadata: structpb.NewStructValue(mustStruct(t, map[string]interface{}{
			"tokens": "1532",
		})),
	}}

	resp := decodeEnvelope(out)
	assert.Equal(t, "scoring-gpt", resp.Model)
	assert.Equal(t, `{"overall_score":88}`, resp.Raw)
	require.True(t, resp.HasStructured())
	score, ok := NumberField(resp.Structured, "overall_score")
	require.True(t, ok)
	assert.Equal(t, 88.0, score)
	assert.Equal(t, "1532", resp.Metadata["tokens"])
}

func TestDecodeEnvelopeEmpty(t *testing.T) {
	t.Parallel()

	resp := decodeEnvelope(nil)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Raw)
	assert.False(t, resp.HasStructured())

	resp = decodeEnvelope(&structpb.Struct{})
	require.NotNil(t, resp)
	assert.Empty(t, resp.Model)
}

func TestTranslateCallError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		task     TaskType
		wantCode errors.ErrorCode
	}{
		{
			name:     "unavailable during generation",
			err:      status.Error(codes.Unavailable, "connection refused"),
			task:     TaskGenerate,
			wantCode: errors.ErrCodeGenerationUnavailable,
		},
		{
			name:     "unavailable during scoring",
			err:      status.Error(codes.Unavailable, "connection refused"),
			task:     TaskScore,
			wantCode: errors.ErrCodeScoringUnavailable,
		},
		{
			name:     "unimplemented maps to unavailable",
			err:      status.Error(codes.Unimplemented, "no such method"),
			task:     TaskVerify,
			wantCode: errors.ErrCodeGenerationUnavailable,
		},
		{
			name:     "deadline exceeded",
			err:      status.Error(codes.DeadlineExceeded, "deadline"),
			task:     TaskGenerate,
			wantCode: errors.ErrCodeTimeout,
		},
		{
			name:     "canceled",
			err:      status.Error(codes.Canceled, "canceled"),
			task:     TaskScore,
			wantCode: errors.ErrCodeTimeout,
		},
		{
			name:     "invalid argument",
			err:      status.Error(codes.InvalidArgument, "bad payload"),
			task:     TaskGenerate,
			wantCode: errors.ErrCodeBadRequest,
		},
		{
			name:     "resource exhausted",
			err:      status.Error(codes.ResourceExhausted, "quota"),
			task:     TaskGenerate,
			wantCode: errors.ErrCodeTooManyRequests,
		},
		{
			name:     "internal failure during generation",
			err:      status.Error(codes.Internal, "boom"),
			task:     TaskGenerate,
			wantCode: errors.ErrCodeGenerationFailed,
		},
		{
			name:     "internal failure during scoring",
			err:      status.Error(codes.Internal, "boom"),
			task:     TaskScore,
			wantCode: errors.ErrCodeScoringFailed,
		},
		{
			name:     "non-status error",
			err:      stdliberrors.New("wire torn"),
			task:     TaskGenerate,
			wantCode: errors.ErrCodeGenerationFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := translateCallError(tt.err, tt.task)
			require.Error(t, got)
			assert.Equal(t, tt.wantCode, errors.GetCode(got))
		})
	}
}

func TestNewGRPCBackendRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := NewGRPCBackend(BackendConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetCode(err))
}

func TestGRPCBackendClosedLifecycle(t *testing.T) {
	t.Parallel()

	// The dial is lazy, so constructing against an unreachable address
	// succeeds and the closed-state checks run without any network.
	backend, err := NewGRPCBackend(BackendConfig{Addr: "localhost:1"}, nil)
	require.NoError(t, err)
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close(), "double close is harmless")

	_, err = backend.Invoke(context.Background(), &InvokeRequest{
		Model:   "m",
		Task:    TaskGenerate,
		Payload: mustStruct(t, map[string]interface{}{}),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeServiceUnavailable, errors.GetCode(err))

	err = backend.Healthy(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeServiceUnavailable, errors.GetCode(err))
}

func TestGRPCBackendRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	backend, err := NewGRPCBackend(BackendConfig{Addr: "localhost:1"}, nil)
	require.NoError(t, err)
	defer backend.Close()

	_, err = backend.Invoke(context.Background(), &InvokeRequest{Task: TaskGenerate})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.GetCode(err))
}

func TestMockBackendDefaults(t *testing.T) {
	t.Parallel()

	mock := &MockBackend{}
	resp, err := mock.Invoke(context.Background(), &InvokeRequest{
		Model:   "research-gpt-4",
		Task:    TaskGenerate,
		Payload: mustStruct(t, map[string]interface{}{}),
	})
	require.NoError(t, err)
	assert.Equal(t, "research-gpt-4", resp.Model)
	assert.Equal(t, "{}", resp.Raw)
	assert.Equal(t, 1, mock.InvocationCount())
	assert.NoError(t, mock.Healthy(context.Background()))
}

func TestMockBackendInjectedBehavior(t *testing.T) {
	t.Parallel()

	mock := &MockBackend{
		InvokeFunc: func(_ context.Context, req *InvokeRequest) (*InvokeResponse, error) {
			if req.Task == TaskScore {
				return &InvokeResponse{Model: req.Model, Raw: `{"overall_score":91}`}, nil
			}
			return nil, errors.New(errors.ErrCodeGenerationFailed, "forced failure")
		},
	}

	payload := mustStruct(t, map[string]interface{}{})
	_, err := mock.Invoke(context.Background(), &InvokeRequest{Model: "m", Task: TaskGenerate, Payload: payload})
	require.Error(t, err)

	resp, err := mock.Invoke(context.Background(), &InvokeRequest{Model: "m", Task: TaskScore, Payload: payload})
	require.NoError(t, err)
	assert.Contains(t, resp.Raw, "91")

	assert.Equal(t, 2, mock.InvocationCount())
	assert.Len(t, mock.InvocationsFor(TaskScore), 1)
	assert.Len(t, mock.InvocationsFor(TaskGenerate), 1)
	assert.Empty(t, mock.InvocationsFor(TaskVerify))
}

func TestMockBackendClosed(t *testing.T) {
	t.Parallel()

	mock := &MockBackend{}
	require.NoError(t, mock.Close())

	_, err := mock.Invoke(context.Background(), &InvokeRequest{
		Model:   "m",
		Task:    TaskGenerate,
		Payload: mustStruct(t, map[string]interface{}{}),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeServiceUnavailable, errors.GetCode(err))
	assert.Equal(t, 0, mock.InvocationCount())
}

func TestMockBackendRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	mock := &MockBackend{}
	_, err := mock.Invoke(context.Background(), &InvokeRequest{Model: "", Task: TaskGenerate})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.GetCode(err))
}

package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestTaskTypeIsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, TaskGenerate.IsValid())
	assert.True(t, TaskScore.IsValid())
	assert.True(t, TaskVerify.IsValid())
	assert.True(t, TaskEmbed.IsValid())
	assert.False(t, TaskType("summarize").IsValid())
	assert.False(t, TaskType("").IsValid())
}

func TestInvokeRequestValidate(t *testing.T) {
	t.Parallel()

	payload := mustStruct(t, map[string]interface{}{"target": "KRAS G12C"})

	tests := []struct {
		name    string
		req     *InvokeRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  &InvokeRequest{Model: "research-gpt-4", Task: TaskGenerate, Payload: payload},
		},
		{
			name:    "nil request",
			req:     nil,
			wantErr: "nil",
		},
		{
			name:    "missing model",
			req:     &InvokeRequest{Model: "  ", Task: TaskScore, Payload: payload},
			wantErr: "model is required",
		},
		{
			name:    "unknown task",
			req:     &InvokeRequest{Model: "m", Task: TaskType("summarize"), Payload: payload},
			wantErr: "unknown task type",
		},
		{
			name:    "missing payload",
			req:     &InvokeRequest{Model: "m", Task: TaskVerify},
			wantErr: "payload is required",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, errors.ErrCodeValidation, errors.GetCode(err))
		})
	}
}

func TestStructFromJSON(t *testing.T) {
	t.Parallel()

	s, err := StructFromJSON([]byte(`{"summary":"oncology market","count":3}`))
	require.NoError(t, err)
	assert.Equal(t, "oncology market", StringField(s, "summary"))
	n, ok := NumberField(s, "count")
	require.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestStructFromJSONRejectsNonObject(t *testing.T) {
	t.Parallel()

	_, err := StructFromJSON([]byte(`["a","b"]`))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSerialization, errors.GetCode(err))

	_, err = StructFromJSON([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSerialization, errors.GetCode(err))
}

func TestJSONFromStructRoundTrip(t *testing.T) {
	t.Parallel()

	in := mustStruct(t, map[string]interface{}{
		"indication": "NSCLC",
		"scores":     []interface{}{80.0, 92.5},
	})
	data, err := JSONFromStruct(in)
	require.NoError(t, err)

	out, err := StructFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "NSCLC", StringField(out, "indication"))
}

func TestJSONFromStructNil(t *testing.T) {
	t.Parallel()

	_, err := JSONFromStruct(nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSerialization, errors.GetCode(err))
}

func TestStructFieldAccessors(t *testing.T) {
	t.Parallel()

	s := mustStruct(t, map[string]interface{}{
		"name":  "sotorasib",
		"value": 1.5,
	})

	assert.Equal(t, "sotorasib", StringField(s, "name"))
	assert.Equal(t, "", StringField(s, "missing"))
	assert.Equal(t, "", StringField(nil, "name"))

	v, ok := NumberField(s, "value")
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	_, ok = NumberField(s, "name")
	assert.False(t, ok, "string field must not read as number")
	_, ok = NumberField(s, "missing")
	assert.False(t, ok)
	_, ok = NumberField(nil, "value")
	assert.False(t, ok)
}

func TestInvokeResponseBody(t *testing.T) {
	t.Parallel()

	raw := &InvokeResponse{Raw: `{"summary":"x"}`}
	body, err := raw.Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"x"}`, string(body))
	assert.False(t, raw.HasStructured())

	structured := &InvokeResponse{
		Raw:        "ignored when structured present",
		Structured: mustStruct(t, map[string]interface{}{"summary": "y"}),
	}
	assert.True(t, structured.HasStructured())
	body, err = structured.Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"y"}`, string(body))

	var nilResp *InvokeResponse
	_, err = nilResp.Body()
	require.Error(t, err)
}

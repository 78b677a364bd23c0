// Package errors_test provides unit tests for the AppError type, factory
// functions, and error-chain helpers defined in pkg/errors.
package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.CodeInternal, "unexpected failure"},
		{"run not found", errors.ErrCodeResearchRunNotFound, "run 7f3a not found"},
		{"invalid param", errors.CodeInvalidParam, "target must not be empty"},
		{"malformed candidate", errors.ErrCodeMalformedCandidate, "missing market section"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail, "Detail should be empty for bare New()")
			assert.Nil(t, ae.Cause, "Cause should be nil for bare New()")
		})
	}
}

func TestError_FormatIncludesCodeAndDetail(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeThresholdNotMet, "quality threshold not met")
	assert.Equal(t, "[QA_003] quality threshold not met", ae.Error())

	withDetail := ae.WithDetail("overall=80.0 threshold=85.0")
	assert.Equal(t, "[QA_003] quality threshold not met: overall=80.0 threshold=85.0", withDetail.Error())
	assert.Empty(t, ae.Detail, "WithDetail must not mutate the receiver")
}

func TestWrap_NilReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.Wrap(nil, errors.CodeDBQueryError, "query failed"))
}

func TestWrap_PreservesCauseChain(t *testing.T) {
	t.Parallel()

	root := stderrors.New("connection reset")
	wrapped := errors.Wrap(root, errors.CodeDBConnectionError, "failed to reach postgres")

	require.NotNil(t, wrapped)
	assert.Equal(t, errors.CodeDBConnectionError, wrapped.Code)
	assert.True(t, stderrors.Is(wrapped, root), "errors.Is must traverse to the root cause")

	var ae *errors.AppError
	require.True(t, stderrors.As(wrapped, &ae))
	assert.Equal(t, root, ae.Unwrap())
}

func TestWrap_UnknownCodePreservesOriginalClassification(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeMalformedCandidate, "not a JSON document")
	outer := errors.Wrap(inner, errors.CodeUnknown, "attempt 2 failed")

	assert.Equal(t, errors.ErrCodeMalformedCandidate, outer.Code,
		"wrapping with CodeUnknown must keep the inner domain code")
}

func TestWithCause_AttachesWithoutMutation(t *testing.T) {
	t.Parallel()

	base := errors.Configuration("generation backend address missing")
	cause := fmt.Errorf("dial tcp: lookup failed")
	attached := base.WithCause(cause)

	assert.Nil(t, base.Cause)
	require.NotNil(t, attached)
	assert.Equal(t, cause, attached.Cause)
	assert.Equal(t, errors.ErrCodeConfiguration, attached.Code)
}

func TestIsCode_TraversesChain(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeSourceCountInsufficient, "2 sources, need 3")
	mid := errors.Wrap(inner, errors.ErrCodeValidationLayerFailed, "fact-check layer")
	outer := fmt.Errorf("attempt 1: %w", mid)

	assert.True(t, errors.IsCode(outer, errors.ErrCodeSourceCountInsufficient))
	assert.True(t, errors.IsCode(outer, errors.ErrCodeValidationLayerFailed))
	assert.False(t, errors.IsCode(outer, errors.ErrCodeThresholdNotMet))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeThresholdNotMet))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"generic not found", errors.NotFound("missing"), true},
		{"research run not found", errors.New(errors.ErrCodeResearchRunNotFound, "missing"), true},
		{"wrapped not found", fmt.Errorf("lookup: %w", errors.NotFound("missing")), true},
		{"other code", errors.Internal("boom"), false},
		{"plain error", stderrors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, errors.IsNotFound(tc.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"configuration is fatal", errors.Configuration("no backend"), false},
		{"generation unavailable is fatal", errors.New(errors.ErrCodeGenerationUnavailable, "down"), false},
		{"malformed candidate retries", errors.New(errors.ErrCodeMalformedCandidate, "bad json"), true},
		{"scoring failure retries", errors.New(errors.ErrCodeScoringFailed, "timeout"), true},
		{"layer failure retries", errors.New(errors.ErrCodeValidationLayerFailed, "opensearch 503"), true},
		{"plain error is not", stderrors.New("boom"), false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, errors.IsRetryable(tc.err))
		})
	}
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("boom")))
	assert.Equal(t, errors.ErrCodeResearchExhausted,
		errors.GetCode(errors.New(errors.ErrCodeResearchExhausted, "best effort")))
	assert.Equal(t, errors.ErrCodeCalcInvalidInput,
		errors.GetCode(fmt.Errorf("wrap: %w", errors.New(errors.ErrCodeCalcInvalidInput, "years <= 0"))))
}

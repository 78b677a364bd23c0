package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeConfiguration      ErrorCode = "COMMON_015"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Short aliases used throughout the codebase.
const (
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeOK           = ErrorCode("OK")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeUnauthorized = ErrCodeUnauthorized
	CodeForbidden    = ErrCodeForbidden
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeRateLimit    = ErrCodeTooManyRequests
	CodeTimeout      = ErrCodeTimeout
)

// Research Module Error Codes
const (
	ErrCodeResearchRunNotFound    ErrorCode = "RES_001"
	ErrCodeResearchContextInvalid ErrorCode = "RES_002"
	ErrCodeResearchExhausted      ErrorCode = "RES_003"
	ErrCodeResearchPersistFailed  ErrorCode = "RES_004"
	ErrCodeResearchEventFailed    ErrorCode = "RES_005"
	ErrCodeResearchArchiveFailed  ErrorCode = "RES_006"
)

// Quality Assessment Error Codes
const (
	ErrCodeAssessmentFailed      ErrorCode = "QA_001"
	ErrCodeAssessmentUnparseable ErrorCode = "QA_002"
	ErrCodeThresholdNotMet       ErrorCode = "QA_003"
	ErrCodeCriticalIssueFound    ErrorCode = "QA_004"
)

// Deep Validation Error Codes
const (
	ErrCodeValidationLayerFailed     ErrorCode = "VAL_001"
	ErrCodeSourceCountInsufficient   ErrorCode = "VAL_002"
	ErrCodeCrossReferenceUnavailable ErrorCode = "VAL_003"
	ErrCodePopulationDataUnavailable ErrorCode = "VAL_004"
)

// Deterministic Calculator Error Codes
const (
	ErrCodeCalcInvalidInput    ErrorCode = "CALC_001"
	ErrCodeCalcVectorMismatch  ErrorCode = "CALC_002"
	ErrCodeCalcInvariantBreach ErrorCode = "CALC_003"
)

// Generation / Model Backend Error Codes
const (
	ErrCodeGenerationUnavailable ErrorCode = "GEN_001"
	ErrCodeGenerationFailed      ErrorCode = "GEN_002"
	ErrCodeMalformedCandidate    ErrorCode = "GEN_003"
	ErrCodeScoringUnavailable    ErrorCode = "GEN_004"
	ErrCodeScoringFailed         ErrorCode = "GEN_005"
)

// Infrastructure aliases kept short at call sites.
const (
	CodeDBConnectionError = ErrCodeDatabaseError
	CodeDBQueryError      = ErrCodeDatabaseError
	CodeCacheError        = ErrCodeCacheError
	CodeMessageQueueError = ErrCodeExternalService
	CodeSearchError       = ErrCodeExternalService
	CodeStorageError      = ErrCodeExternalService
	CodeGraphError        = ErrCodeExternalService
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusInternalServerError,
	ErrCodeConfiguration:      http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeResearchRunNotFound:    http.StatusNotFound,
	ErrCodeResearchContextInvalid: http.StatusBadRequest,
	ErrCodeResearchExhausted:      http.StatusOK,
	ErrCodeResearchPersistFailed:  http.StatusInternalServerError,
	ErrCodeResearchEventFailed:    http.StatusInternalServerError,
	ErrCodeResearchArchiveFailed:  http.StatusInternalServerError,

	ErrCodeAssessmentFailed:      http.StatusInternalServerError,
	ErrCodeAssessmentUnparseable: http.StatusBadGateway,
	ErrCodeThresholdNotMet:       http.StatusOK,
	ErrCodeCriticalIssueFound:    http.StatusUnprocessableEntity,

	ErrCodeValidationLayerFailed:     http.StatusInternalServerError,
	ErrCodeSourceCountInsufficient:   http.StatusUnprocessableEntity,
	ErrCodeCrossReferenceUnavailable: http.StatusServiceUnavailable,
	ErrCodePopulationDataUnavailable: http.StatusServiceUnavailable,

	ErrCodeCalcInvalidInput:    http.StatusBadRequest,
	ErrCodeCalcVectorMismatch:  http.StatusBadRequest,
	ErrCodeCalcInvariantBreach: http.StatusUnprocessableEntity,

	ErrCodeGenerationUnavailable: http.StatusServiceUnavailable,
	ErrCodeGenerationFailed:      http.StatusBadGateway,
	ErrCodeMalformedCandidate:    http.StatusBadGateway,
	ErrCodeScoringUnavailable:    http.StatusServiceUnavailable,
	ErrCodeScoringFailed:         http.StatusBadGateway,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeConfiguration:      "invalid configuration",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeResearchRunNotFound:    "research run not found",
	ErrCodeResearchContextInvalid: "invalid research context",
	ErrCodeResearchExhausted:      "retry budget exhausted below quality threshold",
	ErrCodeResearchPersistFailed:  "failed to persist research run",
	ErrCodeResearchEventFailed:    "failed to publish research event",
	ErrCodeResearchArchiveFailed:  "failed to archive research document",

	ErrCodeAssessmentFailed:      "quality assessment failed",
	ErrCodeAssessmentUnparseable: "scoring capability returned unparseable output",
	ErrCodeThresholdNotMet:       "quality threshold not met",
	ErrCodeCriticalIssueFound:    "critical quality issue found",

	ErrCodeValidationLayerFailed:     "validation layer failed",
	ErrCodeSourceCountInsufficient:   "insufficient sources for candidate",
	ErrCodeCrossReferenceUnavailable: "cross-reference database unavailable",
	ErrCodePopulationDataUnavailable: "population data source unavailable",

	ErrCodeCalcInvalidInput:    "invalid calculator input",
	ErrCodeCalcVectorMismatch:  "vector dimensions do not match",
	ErrCodeCalcInvariantBreach: "reported figure inconsistent with base figures",

	ErrCodeGenerationUnavailable: "generation capability unavailable",
	ErrCodeGenerationFailed:      "candidate generation failed",
	ErrCodeMalformedCandidate:    "candidate cannot be interpreted as structured document",
	ErrCodeScoringUnavailable:    "scoring capability unavailable",
	ErrCodeScoringFailed:         "candidate scoring failed",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}

// Package errors provides the unified error type and factory functions for the
// RxMarket-Intelligence platform.  Every layer of the application (domain,
// application, infrastructure, interfaces) uses AppError as the single carrier
// for structured error information, enabling consistent logging, metrics
// labeling, and terminal-outcome classification.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// stackDepth is the maximum number of frames captured per error.
const stackDepth = 32

// captureStack returns a formatted call-stack string starting two frames above
// the caller (skipping captureStack itself and New/Wrap).
func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		// Trim standard-library noise to keep traces readable.
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// AppError is the single structured error type used throughout
// RxMarket-Intelligence.  It satisfies the standard error interface and
// supports Go 1.13+ error wrapping so that errors.Is / errors.As /
// errors.Unwrap work transparently across all layers of the application.
//
// Usage:
//
//	return errors.New(errors.ErrCodeMalformedCandidate, "candidate missing market section")
//	return errors.Wrap(repoErr, errors.CodeDBQueryError, "failed to load research run")
//	return errors.NotFound("research run not found").WithDetail("id=" + id)
type AppError struct {
	// Code is the typed error code that uniquely identifies the failure category.
	Code ErrorCode

	// Message is the primary human-readable description of the error.
	Message string

	// Detail carries supplementary context (request parameters, entity IDs)
	// that aids debugging without leaking internals to callers.
	Detail string

	// Cause is the underlying error that triggered this AppError, enabling
	// errors.Is / errors.As traversal of the full error chain.
	Cause error

	// Stack contains the formatted call-stack captured at the point of error
	// creation.  It is intentionally not included in Error() output; callers
	// that need it (structured logging middleware) inspect the field directly.
	Stack string
}

// Error implements the standard error interface.
// Format: "[<code>] <message>: <detail>", the detail segment omitted when empty.
func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error, enabling errors.Is and errors.As
// to traverse the full error chain without boilerplate at call sites.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail returns a shallow copy of the receiver with Detail set.
// Safe to call on a nil pointer (returns nil).
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithCause returns a shallow copy of the receiver with Cause set to err.
// Use this to attach a lower-level error to an already-constructed AppError
// without going through Wrap.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Cause = err
	return &clone
}

// New constructs a fresh AppError with the given code and message.
// Preferred for errors that originate in the current layer without an
// underlying cause from a lower layer.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Newf constructs a fresh AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(1),
	}
}

// Wrap constructs an AppError that wraps an existing error.
// If err is nil, Wrap returns nil so it can be used inline:
//
//	return errors.Wrap(repo.Save(ctx, run), errors.CodeDBQueryError, "save failed")
//
// When err is already an *AppError and code is CodeUnknown the original code
// is preserved, so the domain classification survives cross-layer propagation.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		var ae *AppError
		if errors.As(err, &ae) {
			code = ae.Code
		}
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// IsCode reports whether any error in err's chain is an *AppError with the
// given code.  The idiomatic way to check domain-specific failure modes:
//
//	if errors.IsCode(err, errors.ErrCodeThresholdNotMet) { ... }
func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether any error in err's chain carries CodeNotFound or
// the research-run variant.
func IsNotFound(err error) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) {
			switch ae.Code {
			case CodeNotFound, ErrCodeResearchRunNotFound:
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsRetryable reports whether the error represents a transient condition the
// orchestrator may retry within the attempt budget.  Configuration errors are
// never retryable (§ fatal); malformed candidates and failed external calls are.
func IsRetryable(err error) bool {
	var ae *AppError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Code {
	case ErrCodeConfiguration, ErrCodeGenerationUnavailable, ErrCodeScoringUnavailable:
		return false
	case ErrCodeMalformedCandidate, ErrCodeGenerationFailed, ErrCodeScoringFailed,
		ErrCodeAssessmentUnparseable, ErrCodeValidationLayerFailed,
		ErrCodeTimeout, ErrCodeTooManyRequests:
		return true
	}
	return false
}

// GetCode extracts the ErrorCode from the first *AppError found in err's chain.
// If no *AppError is present, CodeUnknown is returned.  Useful in logging and
// metrics layers that need a single code label without coupling to domains.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// NotFound constructs a CodeNotFound AppError.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
		Stack:   captureStack(1),
	}
}

// InvalidParam constructs a CodeInvalidParam AppError.
func InvalidParam(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidParam,
		Message: message,
		Stack:   captureStack(1),
	}
}

// InvalidState constructs a CodeConflict AppError, used for state violations.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Configuration constructs an ErrCodeConfiguration AppError.  These are fatal:
// the orchestrator surfaces them immediately and never retries.
func Configuration(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConfiguration,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Internal constructs a CodeInternal AppError for unexpected failures where no
// more specific code applies.
func Internal(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Conflict constructs a CodeConflict AppError.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Stack:   captureStack(1),
	}
}

// RateLimit constructs a CodeRateLimit AppError.
func RateLimit(message string) *AppError {
	return &AppError{
		Code:    CodeRateLimit,
		Message: message,
		Stack:   captureStack(1),
	}
}

// NewNotImplemented constructs an ErrCodeNotImplemented AppError.
func NewNotImplemented(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNotImplemented,
		Message: message,
		Stack:   captureStack(1),
	}
}

package core

import (
	"errors"
	"fmt"
)

// ResolutionError represents a structured failure with kind and details.
// Every failure carries a machine code and a human-readable reason.
type ResolutionError struct {
	Kind    FailureKind
	Code    string                 // Machine-readable code: ambiguous_match, unsafe_target, etc.
	Message string                 // Human-readable reason
	Details map[string]interface{} // Additional context (candidates, scores, reason trail)
	Cause   error                  // Underlying error
}

// Error implements the error interface
func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Is matches another *ResolutionError by code, so copies made with the
// With* helpers still match their predefined sentinel.
func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ResolutionError) WithCause(cause error) *ResolutionError {
	return &ResolutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ResolutionError) WithMessage(msg string) *ResolutionError {
	return &ResolutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: msg,
		Details: e.Details,
		Cause:   e.Cause,
	}
}

// WithMessagef is WithMessage with formatting.
func (e *ResolutionError) WithMessagef(format string, args ...interface{}) *ResolutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ResolutionError) WithDetails(details map[string]interface{}) *ResolutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ResolutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: merged,
		Cause:   e.Cause,
	}
}

// Predefined failures
var (
	ErrAcquisitionFailed = &ResolutionError{
		Kind:    FailureAcquisition,
		Code:    "acquisition_failed",
		Message: "could not capture a UI snapshot",
	}
	ErrNoUsableEvidence = &ResolutionError{
		Kind:    FailureNoEvidence,
		Code:    "no_usable_evidence",
		Message: "evidence has no field this strategy can use",
	}
	ErrAmbiguousMatch = &ResolutionError{
		Kind:    FailureAmbiguous,
		Code:    "ambiguous_match",
		Message: "more than one candidate matches",
	}
	ErrUnsafeTarget = &ResolutionError{
		Kind:    FailureUnsafe,
		Code:    "unsafe_target",
		Message: "target failed the safety gate",
	}
	ErrLowConfidence = &ResolutionError{
		Kind:    FailureLowConfidence,
		Code:    "low_confidence",
		Message: "best candidate is below the minimum confidence",
	}
	ErrExecutionFailed = &ResolutionError{
		Kind:    FailureExecution,
		Code:    "execution_failed",
		Message: "device action failed",
	}
	ErrInvalidPlan = &ResolutionError{
		Kind:    FailureConfig,
		Code:    "invalid_plan",
		Message: "invalid resolution plan",
	}
)

// NewResolutionError creates a new ResolutionError with the given parameters
func NewResolutionError(kind FailureKind, code, message string) *ResolutionError {
	return &ResolutionError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// FailureKindOf returns the kind of err if it is (or wraps) a ResolutionError.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return FailureUnknown
}

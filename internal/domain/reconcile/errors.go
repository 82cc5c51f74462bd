package reconcile

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known failure categories shared by the
// reconciliation and matching layers.
type ErrorCode string

const (
	ErrCodePrerequisite      ErrorCode = "PREREQUISITE_NOT_MET"
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrCodeActionFailed      ErrorCode = "ACTION_FAILED"
	ErrCodeNoMatch           ErrorCode = "NO_MATCH_FOUND"
	ErrCodeAmbiguousMatch    ErrorCode = "AMBIGUOUS_MATCH"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// DomainError is a typed error enriched with contextual data. It carries no
// infrastructure dependencies so every layer can produce and inspect it.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another DomainError by code. A target with an empty message
// matches any error of the same code, which lets callers compare against the
// package sentinels below.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	if e.Code != other.Code {
		return false
	}
	return other.Message == "" || other.Message == e.Message
}

// WithContext clones the error with additional contextual metadata.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: merged,
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrPrerequisiteNotMet = &DomainError{Code: ErrCodePrerequisite}
	ErrSourceUnavailable  = &DomainError{Code: ErrCodeSourceUnavailable}
	ErrActionFailed       = &DomainError{Code: ErrCodeActionFailed}
	ErrNoMatchFound       = &DomainError{Code: ErrCodeNoMatch}
	ErrAmbiguousMatch     = &DomainError{Code: ErrCodeAmbiguousMatch}
	ErrNotFound           = &DomainError{Code: ErrCodeNotFound}
	ErrCancelled          = &DomainError{Code: ErrCodeCancelled}
)

// NewError constructs a DomainError.
func NewError(code ErrorCode, message string, cause error, context map[string]interface{}) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// PrerequisiteError reports a hard gate that no retry can fix.
func PrerequisiteError(message string, context map[string]interface{}) *DomainError {
	return NewError(ErrCodePrerequisite, message, nil, context)
}

// ActionError wraps a failed corrective action.
func ActionError(message string, cause error, context map[string]interface{}) *DomainError {
	return NewError(ErrCodeActionFailed, message, cause, context)
}

// IsFatal reports whether err must short-circuit reconciliation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPrerequisiteNotMet) || errors.Is(err, ErrCancelled)
}

// CodeOf extracts the error code, falling back to ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var dErr *DomainError
	if errors.As(err, &dErr) && dErr != nil {
		return dErr.Code
	}
	return ErrCodeInternal
}

func newValidationError(message string, context map[string]interface{}) *DomainError {
	return NewError(ErrCodeValidation, message, nil, context)
}

func newMissingFieldError(field string) *DomainError {
	return NewError(ErrCodeValidation, "missing required field", nil, map[string]interface{}{
		"field": field,
	})
}

func cancelledError(cause error) *DomainError {
	return NewError(ErrCodeCancelled, "reconciliation cancelled", cause, nil)
}

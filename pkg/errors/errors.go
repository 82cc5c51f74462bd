// Package errors holds the typed failures raised before or around a run:
// unreadable inputs, rejected settings, and targets or handlers that could
// not be built. Callers map them onto domain error codes.
package errors

import (
	"fmt"
)

// Phase names the step of a run a TargetError was raised in.
type Phase string

const (
	// PhasePrepare covers building targets from the configuration.
	PhasePrepare Phase = "prepare"
	// PhaseReconcile covers resolving a handler and driving the target.
	PhaseReconcile Phase = "reconcile"
)

// ParseError reports an input that could not be decoded: the configuration
// file, a dotenv file or a directory export. Line is 1-based, 0 when unknown.
type ParseError struct {
	Path string
	Line int
	Err  error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	return &ParseError{Path: path, Line: line, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	where := e.Path
	if e.Line > 0 {
		where = fmt.Sprintf("%s line %d", e.Path, e.Line)
	}
	if e.Err == nil {
		return "cannot parse " + where
	}
	return fmt.Sprintf("cannot parse %s: %v", where, e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError rejects one setting. Field uses the dotted YAML path
// (settings.max_attempts, targets[1].params) or the flag name for
// command-line overrides.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TargetError ties a failure to the convergence target it belongs to.
type TargetError struct {
	TargetID string
	Kind     string
	Phase    Phase
	Err      error
}

// NewTargetError constructs a TargetError for the target id and kind.
func NewTargetError(targetID, kind string, phase Phase, err error) error {
	return &TargetError{TargetID: targetID, Kind: kind, Phase: phase, Err: err}
}

func (e *TargetError) Error() string {
	if e == nil {
		return ""
	}
	subject := "target " + e.TargetID
	if e.Kind != "" {
		subject = fmt.Sprintf("%s target %s", e.Kind, e.TargetID)
	}
	if e.Phase != "" {
		return fmt.Sprintf("%s (%s): %v", subject, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s: %v", subject, e.Err)
}

func (e *TargetError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HandlerError reports a handler that could not be built or registered for
// a target kind, e.g. a join command that fails to parse.
type HandlerError struct {
	Handler string
	Kind    string
	Err     error
}

// NewHandlerError constructs a HandlerError.
func NewHandlerError(handler, kind string, err error) error {
	return &HandlerError{Handler: handler, Kind: kind, Err: err}
}

func (e *HandlerError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("handler %s for %s targets: %v", e.Handler, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

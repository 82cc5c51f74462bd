package main

import (
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
)

// Exit codes.
const (
	exitOK          = 0
	exitUnsatisfied = 1
	exitConfig      = 2
	exitInternal    = 3
)

// exitError ends the process with a specific code. Silent errors have
// already been reported through the summary.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// unsatisfied reports a completed run whose targets did not all converge.
func unsatisfied(format string, args ...interface{}) error {
	return &exitError{code: exitUnsatisfied, err: fmt.Errorf(format, args...), silent: true}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	switch reconcile.CodeOf(err) {
	case reconcile.ErrCodeValidation, reconcile.ErrCodeNotFound:
		return exitConfig
	case reconcile.ErrCodeCancelled:
		return exitUnsatisfied
	}
	return exitInternal
}

func isSilent(err error) bool {
	var exitErr *exitError
	return errors.As(err, &exitErr) && exitErr.silent
}

func newCommandError(operation, context string, cause error, suggestion string) error {
	return &commandError{operation: operation, context: context, cause: cause, suggestion: suggestion}
}

type commandError struct {
	operation  string
	context    string
	cause      error
	suggestion string
}

func (e *commandError) Error() string {
	return fmt.Sprintf("Failed to %s: %s\n\nError: %v\n\nSuggestion: %s", e.operation, e.context, e.cause, e.suggestion)
}

func (e *commandError) Unwrap() error { return e.cause }

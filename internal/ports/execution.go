package ports

import (
	"context"
	"time"
)

// ProcessResult captures a finished external command.
type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports a zero exit code.
func (r ProcessResult) Success() bool {
	return r.ExitCode == 0
}

// ProcessInvoker runs external executables such as dsregcmd or
// deviceenroller. A non-zero exit is reported through ProcessResult.ExitCode
// with a nil error; err is reserved for processes that could not be started
// or were cancelled.
type ProcessInvoker interface {
	Run(ctx context.Context, executable string, args ...string) (ProcessResult, error)
}

package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Invoker runs executables with os/exec and captures their output.
type Invoker struct {
	// Echo receives a copy of stdout and stderr as the process runs, e.g.
	// os.Stderr under --verbose. Nil discards the live copy.
	Echo io.Writer
	// Timeout bounds each run when positive.
	Timeout time.Duration
	// Env is appended to the inherited environment.
	Env []string

	logger ports.Logger
}

// NewInvoker creates an invoker that logs each run at debug level.
func NewInvoker(logger ports.Logger) *Invoker {
	return &Invoker{logger: logger}
}

// Run implements ports.ProcessInvoker.
func (i *Invoker) Run(ctx context.Context, executable string, args ...string) (ports.ProcessResult, error) {
	if strings.TrimSpace(executable) == "" {
		return ports.ProcessResult{}, reconcile.NewError(reconcile.ErrCodeValidation, "executable is required", nil, nil)
	}
	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	if len(i.Env) > 0 {
		cmd.Env = append(cmd.Environ(), i.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	if i.Echo != nil {
		cmd.Stdout = io.MultiWriter(i.Echo, &stdoutBuf)
		cmd.Stderr = io.MultiWriter(i.Echo, &stderrBuf)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	start := time.Now()
	err := cmd.Run()
	result := ports.ProcessResult{
		ExitCode: 0,
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(start),
	}

	if i.logger != nil {
		defer func() {
			i.logger.Debug(ctx, "process finished",
				"executable", executable,
				"args", args,
				"exit_code", result.ExitCode,
				"duration_ms", result.Duration.Milliseconds(),
			)
		}()
	}

	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, reconcile.NewError(reconcile.ErrCodeCancelled, "process cancelled", ctxErr,
			map[string]interface{}{"executable": executable})
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	result.ExitCode = -1
	return result, reconcile.NewError(reconcile.ErrCodeSourceUnavailable, "process could not be started", err,
		map[string]interface{}{"executable": executable})
}

// PrimaryOutput returns stderr if present, otherwise stdout.
func PrimaryOutput(res ports.ProcessResult) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}

var _ ports.ProcessInvoker = (*Invoker)(nil)

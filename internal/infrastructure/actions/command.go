// Package actions implements the corrective actions behind each target kind.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/process"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Describer is implemented by executors that can say what they would do.
type Describer interface {
	Describe(target reconcile.ConvergenceTarget) string
}

// Command runs a fixed external command, such as dsregcmd /join or
// deviceenroller /AutoEnrollMDM. Both tools are safe to re-run on a device
// that is already joined or enrolled.
type Command struct {
	invoker ports.ProcessInvoker
	argv    []string
	logger  ports.Logger
}

// NewCommand creates a command executor from an argv slice.
func NewCommand(invoker ports.ProcessInvoker, argv []string, logger ports.Logger) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("command executor requires an executable")
	}
	return &Command{invoker: invoker, argv: append([]string(nil), argv...), logger: logger}, nil
}

// Describe implements Describer.
func (c *Command) Describe(reconcile.ConvergenceTarget) string {
	return "run " + strings.Join(c.argv, " ")
}

// Act implements ports.ActionExecutor.
func (c *Command) Act(ctx context.Context, target reconcile.ConvergenceTarget) reconcile.ActionResult {
	desc := c.Describe(target)
	res, err := c.invoker.Run(ctx, c.argv[0], c.argv[1:]...)
	if err != nil {
		if errors.Is(err, reconcile.ErrCancelled) {
			return reconcile.Failed(desc, err)
		}
		return reconcile.Failed(desc, reconcile.ActionError("command could not run", err,
			map[string]interface{}{"target_id": target.ID(), "executable": c.argv[0]}))
	}
	if !res.Success() {
		if c.logger != nil {
			c.logger.Warn(ctx, "corrective command failed",
				"target_id", target.ID(),
				"executable", c.argv[0],
				"exit_code", res.ExitCode,
				"output", process.PrimaryOutput(res),
			)
		}
		return reconcile.Failed(desc, reconcile.ActionError(
			fmt.Sprintf("%s exited with code %d", c.argv[0], res.ExitCode),
			errors.New(process.PrimaryOutput(res)),
			map[string]interface{}{"target_id": target.ID(), "exit_code": res.ExitCode}))
	}
	return reconcile.Applied(desc)
}

var (
	_ ports.ActionExecutor = (*Command)(nil)
	_ Describer            = (*Command)(nil)
)

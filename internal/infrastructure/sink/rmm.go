package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/process"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// DefaultRMMArgs sets a custom field with the NinjaOne agent CLI.
var DefaultRMMArgs = []string{"set", "{field}", "{value}"}

// RMM sets custom fields through a monitoring agent CLI.
type RMM struct {
	invoker ports.ProcessInvoker
	command string
	args    []string
}

// NewRMM creates the sink. Args may contain {field} and {value}.
func NewRMM(invoker ports.ProcessInvoker, command string, args []string) *RMM {
	if len(args) == 0 {
		args = DefaultRMMArgs
	}
	return &RMM{invoker: invoker, command: command, args: append([]string(nil), args...)}
}

// Argv renders the command line for one field.
func (r *RMM) Argv(field, value string) []string {
	replacer := strings.NewReplacer("{field}", field, "{value}", value)
	argv := make([]string, 0, len(r.args)+1)
	argv = append(argv, r.command)
	for _, a := range r.args {
		argv = append(argv, replacer.Replace(a))
	}
	return argv
}

// SetStatus implements ports.StatusSink.
func (r *RMM) SetStatus(ctx context.Context, field, value string) error {
	argv := r.Argv(field, value)
	res, err := r.invoker.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return fmt.Errorf("run %s: %w", r.command, err)
	}
	if !res.Success() {
		return fmt.Errorf("%s exited with code %d: %s", r.command, res.ExitCode, process.PrimaryOutput(res))
	}
	return nil
}

// AppendRow implements ports.StatusSink; agents only hold scalar fields.
func (r *RMM) AppendRow(context.Context, string, ports.Record) error { return nil }

// Close implements ports.StatusSink.
func (r *RMM) Close(context.Context) error { return nil }

var _ ports.StatusSink = (*RMM)(nil)

//go:build !windows

package localstate

import (
	"context"
	"runtime"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Unsupported stands in for the registry on other platforms. Every call
// reports the source as unavailable so probes degrade to unknown.
type Unsupported struct{}

// New returns the platform registry client.
func New(ports.Logger) (ports.LocalStateClient, error) {
	return Unsupported{}, nil
}

func (Unsupported) err(path string) error {
	return reconcile.NewError(reconcile.ErrCodeSourceUnavailable, "registry not available on "+runtime.GOOS, nil,
		map[string]interface{}{"path": path})
}

// Read implements ports.LocalStateClient.
func (u Unsupported) Read(_ context.Context, path, _ string) (state.Value, bool, error) {
	return state.Value{}, false, u.err(path)
}

// Write implements ports.LocalStateClient.
func (u Unsupported) Write(_ context.Context, path, _ string, _ state.Value) error {
	return u.err(path)
}

// EnumerateSubkeys implements ports.LocalStateClient.
func (u Unsupported) EnumerateSubkeys(_ context.Context, path string) ([]string, error) {
	return nil, u.err(path)
}

var _ ports.LocalStateClient = Unsupported{}

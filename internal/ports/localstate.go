package ports

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
)

// LocalStateClient is a hierarchical key/value store such as the Windows
// registry. Paths carry their hive prefix, e.g. HKLM\SOFTWARE\Microsoft.
// Read reports a missing key or value with ok=false and a nil error.
type LocalStateClient interface {
	Read(ctx context.Context, path, name string) (value state.Value, ok bool, err error)
	Write(ctx context.Context, path, name string, value state.Value) error
	EnumerateSubkeys(ctx context.Context, path string) ([]string, error)
}

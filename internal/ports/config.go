package ports

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/config"
)

// ConfigLoader loads the run configuration from an external source.
//
// Error mapping expectations:
//   - io/fs.ErrNotExist → ErrCodeNotFound
//   - schema or YAML parsing failures → ErrCodeValidation
//   - context cancellation → ErrCodeCancelled
//   - unexpected I/O issues → ErrCodeInternal with wrapped cause
type ConfigLoader interface {
	// Load returns a validated configuration with defaults and environment
	// overrides applied.
	Load(ctx context.Context, path string) (*config.Config, error)

	// Validate checks the file without building collaborators.
	Validate(ctx context.Context, path string) error
}

package ports

import (
	"context"
	"time"
)

// ExecutionCounter persists how many separate invocations attempted a target
// without satisfying it. It backs the escalation policy and is the only state
// carried across runs. Implementations must be safe for concurrent use.
type ExecutionCounter interface {
	// Increment records one more execution and returns the new count.
	Increment(ctx context.Context, key string) (int, error)
	// Get returns the current count, zero when unknown.
	Get(ctx context.Context, key string) (int, error)
	// Reset clears the count once the target is satisfied.
	Reset(ctx context.Context, key string) error
	// History lists the stored counters.
	History(ctx context.Context) ([]CounterEntry, error)
	Close() error
}

// CounterEntry is one persisted counter.
type CounterEntry struct {
	Key         string
	Executions  int
	LastOutcome string
	UpdatedAt   time.Time
}

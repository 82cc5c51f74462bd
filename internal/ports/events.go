package ports

import "context"

const (
	// EventReconcileStarted is emitted before a target is probed.
	EventReconcileStarted = "reconcile.started"
	// EventReconcileOutcome is emitted once per target with its terminal outcome.
	EventReconcileOutcome = "reconcile.outcome"
	// EventHardMatchResolved is emitted once per principal after resolution
	// and, when matched, the attribute write.
	EventHardMatchResolved = "hardmatch.resolved"
	// EventRunCompleted is emitted after every target of an invocation is done.
	EventRunCompleted = "run.completed"
)

// DomainEvent represents a significant occurrence within the domain or
// application layer.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers run so observability signals
// are recorded before the process exits. Implementations must be thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Failures are returned
// so publishers can log diagnostics and keep delivering to other handlers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler.
type Subscription interface {
	Unsubscribe()
}

// Payload keys shared by publishers and subscribers. Payloads are
// map[string]interface{}.
const (
	PayloadTargetID     = "target_id"
	PayloadTargetKind   = "target_kind"
	PayloadOutcome      = "outcome"
	PayloadActionStatus = "action_statuses"
	PayloadDuration     = "duration_seconds"
	PayloadFailed       = "failed"
	PayloadPrincipal    = "principal"
	PayloadStatus       = "status"
	PayloadJoinState    = "join_state"
	PayloadCompletedAt  = "completed_at"
)

// Event is the DomainEvent used by the application layer.
type Event struct {
	Type string
	Data map[string]interface{}
}

// NewEvent builds an event with a map payload.
func NewEvent(eventType string, data map[string]interface{}) Event {
	return Event{Type: eventType, Data: data}
}

// EventType implements DomainEvent.
func (e Event) EventType() string { return e.Type }

// Payload implements DomainEvent.
func (e Event) Payload() interface{} { return e.Data }

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	logginginfra "github.com/alexisbeaulieu97/convergo/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer) ports.Logger {
	t.Helper()
	logger, err := logginginfra.New(logginginfra.Options{
		Writer:    buf,
		Level:     "info",
		Layer:     "test",
		Component: "publisher",
	})
	require.NoError(t, err)
	return logger
}

func TestLoggingPublisherIncludesCorrelationID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	publisher := NewLoggingPublisher(newTestLogger(t, buf))

	ctx := logginginfra.WithCorrelationID(context.Background(), "abc-123")
	err := publisher.Publish(ctx, sampleEvent{
		eventType: ports.EventReconcileOutcome,
		payload:   map[string]interface{}{"target_id": "entra-join", "outcome": "converged"},
	})
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "target outcome", entry["message"])
	require.Equal(t, "info", entry["level"])
	require.Equal(t, ports.EventReconcileOutcome, entry["event_type"])
	require.Equal(t, "abc-123", entry["correlation_id"])
	require.Equal(t, "entra-join", entry["target_id"])
}

func TestLoggingPublisherWarnsOnFailedPayload(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	publisher := NewLoggingPublisher(newTestLogger(t, buf))

	err := publisher.Publish(context.Background(), sampleEvent{
		eventType: ports.EventReconcileOutcome,
		payload:   map[string]interface{}{"target_id": "intune", "outcome": "failed_fatal", "failed": true},
	})
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "warn", entry["level"])
}

func TestLoggingPublisherLogsStartedAtDebug(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	publisher := NewLoggingPublisher(newTestLogger(t, buf))

	require.NoError(t, publisher.Publish(context.Background(), sampleEvent{
		eventType: ports.EventReconcileStarted,
		payload:   map[string]interface{}{"target_id": "entra-join"},
	}))
	require.Zero(t, buf.Len())
}

func TestLoggingPublisherInvokesSubscribers(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	publisher := NewLoggingPublisher(newTestLogger(t, buf))

	var handled, wildcard int
	_, err := publisher.Subscribe(ports.EventRunCompleted, func(ctx context.Context, event ports.DomainEvent) error {
		handled++
		return nil
	})
	require.NoError(t, err)
	sub, err := publisher.Subscribe(WildcardEvent, func(ctx context.Context, event ports.DomainEvent) error {
		wildcard++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), sampleEvent{eventType: ports.EventRunCompleted}))
	require.NoError(t, publisher.Publish(context.Background(), sampleEvent{eventType: ports.EventHardMatchResolved}))
	require.Equal(t, 1, handled)
	require.Equal(t, 2, wildcard)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, publisher.Publish(context.Background(), sampleEvent{eventType: ports.EventRunCompleted}))
	require.Equal(t, 2, handled)
	require.Equal(t, 2, wildcard)
}

func TestLoggingPublisherSurvivesHandlerErrors(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	publisher := NewLoggingPublisher(newTestLogger(t, buf))

	_, err := publisher.Subscribe(ports.EventReconcileOutcome, func(context.Context, ports.DomainEvent) error {
		return context.DeadlineExceeded
	})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), sampleEvent{eventType: ports.EventReconcileOutcome}))
	require.True(t, strings.Contains(buf.String(), "event handler failed"))
}

type sampleEvent struct {
	eventType string
	payload   interface{}
}

func (e sampleEvent) EventType() string    { return e.eventType }
func (e sampleEvent) Payload() interface{} { return e.payload }

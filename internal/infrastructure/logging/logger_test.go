package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		payload := make(map[string]interface{})
		require.NoError(t, json.Unmarshal([]byte(line), &payload), "line %q", line)
		out = append(out, payload)
	}
	return out
}

func TestLoggerIncludesCorrelationIDAndLayer(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{
		Writer:    &buf,
		Level:     "debug",
		Layer:     "application",
		Component: "reconciler",
	})
	require.NoError(t, err)

	ctx := WithCorrelationID(context.Background(), "abc123")
	logger.Info(ctx, "target converged", "target_id", "entra-join", "attempts", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	payload := lines[0]
	assert.Equal(t, "application", payload["layer"])
	assert.Equal(t, "reconciler", payload["component"])
	assert.Equal(t, "abc123", payload["correlation_id"])
	assert.Equal(t, "entra-join", payload["target_id"])
	assert.EqualValues(t, 2, payload["attempts"])
	assert.Equal(t, "target converged", payload["message"])
	assert.Equal(t, "info", payload["level"])
}

func TestLoggerWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf})
	require.NoError(t, err)

	child := logger.With("component", "graph").(*Logger)
	child.Warn(context.Background(), "lookup failed", "key", "jsmith@example.com", "error", errors.New("timeout"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "graph", lines[0]["component"])
	assert.Equal(t, "jsmith@example.com", lines[0]["key"])
	assert.Equal(t, "timeout", lines[0]["error"])
	assert.Equal(t, "infrastructure", lines[0]["layer"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Level: "warn"})
	require.NoError(t, err)

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "hidden")
	logger.Error(context.Background(), "shown", "elapsed", 1500*time.Millisecond)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestLoggerRejectsUnknownOptions(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	require.Error(t, err)

	_, err = New(Options{Format: "xml"})
	require.Error(t, err)
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Format: FormatConsole, NoColor: true})
	require.NoError(t, err)

	logger.Info(context.Background(), "hello", "target_id", "intune")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "target_id=intune")
}

func TestNoOpLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf})
	require.NoError(t, err)

	noOp := NewNoOpLogger()
	noOp.Info(context.Background(), "hello world")
	assert.Zero(t, buf.Len())
	assert.Equal(t, noOp, noOp.With("key", "value"))

	logger.Info(context.Background(), "emitted")
	assert.NotZero(t, buf.Len())
}

func TestBufferedLoggerStoresAndFlushes(t *testing.T) {
	buffer := NewEventBuffer(10)
	bufLogger := NewBufferedLogger(buffer)

	ctx := WithCorrelationID(context.Background(), "buffered")
	bufLogger.Info(ctx, "loading configuration", "component", "bootstrap")
	bufLogger.With("component", "config").Error(ctx, "failed", "attempt", 1)

	var output bytes.Buffer
	delegate, err := New(Options{Writer: &output})
	require.NoError(t, err)

	buffer.Flush(delegate)

	lines := decodeLines(t, &output)
	require.Len(t, lines, 2)
	assert.Equal(t, "loading configuration", lines[0]["message"])
	assert.Equal(t, "bootstrap", lines[0]["component"])
	assert.Equal(t, "failed", lines[1]["message"])
	assert.Equal(t, "config", lines[1]["component"])
	assert.Equal(t, "buffered", lines[1]["correlation_id"])
}

func TestEventBufferDropsOldest(t *testing.T) {
	buffer := NewEventBuffer(2)
	bufLogger := NewBufferedLogger(buffer)
	for _, msg := range []string{"one", "two", "three"} {
		bufLogger.Info(context.Background(), msg)
	}

	var output bytes.Buffer
	delegate, err := New(Options{Writer: &output})
	require.NoError(t, err)
	buffer.Flush(delegate)

	lines := decodeLines(t, &output)
	require.Len(t, lines, 3)
	assert.Equal(t, "early log entries dropped", lines[0]["message"])
	assert.Equal(t, float64(1), lines[0]["dropped"])
	assert.Equal(t, "two", lines[1]["message"])
	assert.Equal(t, "three", lines[2]["message"])
}

func TestStartRunKeepsExistingCorrelationID(t *testing.T) {
	ctx := StartRun(context.Background())
	id := ports.GetCorrelationID(ctx)
	assert.NotEmpty(t, id)

	assert.Equal(t, id, ports.GetCorrelationID(StartRun(ctx)))
	assert.Equal(t, "pinned", ports.GetCorrelationID(StartRun(WithCorrelationID(context.Background(), "pinned"))))
}

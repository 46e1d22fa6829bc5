package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracing_None(t *testing.T) {
	shutdown, err := InitTracing("none", "autopilot", "run-1", nil)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Stdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing("stdout", "autopilot", "run-1", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { InitTracing("none", "autopilot", "", nil) })

	ctx, span := StartSpan(context.Background(), "scheduler.cycle", attribute.Int("cycle", 1))
	_, child := StartSpan(ctx, "worker.run", attribute.String("worker", "terminal"))
	EndSpan(child, errors.New("boom"))
	EndSpan(span, nil)

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "scheduler.cycle")
	assert.Contains(t, out, "worker.run")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "run-1")
}

func TestInitTracing_Unsupported(t *testing.T) {
	_, err := InitTracing("zipkin", "autopilot", "", nil)
	assert.Error(t, err)
}

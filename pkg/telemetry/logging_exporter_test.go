package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLoggingExporterEmitsSpan(t *testing.T) {
	var buf bytes.Buffer
	exporter := newLoggingExporter(zerolog.New(&buf))
	recorder := NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSpanProcessor(recorder),
	)
	ctx := context.Background()

	ctx, parent := provider.Tracer("test").Start(ctx, "identity.Register")
	_, child := provider.Tracer("test").Start(ctx, "storage.insert")
	child.SetAttributes(attribute.String("device.id", "d-1"))
	child.End()
	parent.End()
	require.NoError(t, provider.Shutdown(context.Background()))

	out := buf.String()
	require.Contains(t, out, `"span_name":"storage.insert"`)
	require.Contains(t, out, `"device.id":"d-1"`)
	require.Contains(t, out, `"parent_span_id"`)
	require.Equal(t, []string{"storage.insert", "identity.Register"}, recorder.Names())
	require.NotNil(t, recorder.FirstSpanNamed("identity.Register"))
	require.Nil(t, recorder.FirstSpanNamed("missing"))
}

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_Enabled(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := New(context.Background(), Config{
		Enabled:        true,
		Endpoint:       "localhost:4318",
		SampleRate:     1,
		ServiceVersion: "test",
	}, WithExporter(exp))
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()
	assert.True(t, p.Enabled())

	_, span := p.Tracer("test").Start(context.Background(), "node_end")
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "node_end", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "codecraft", service)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0).Description(), "AlwaysOff")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

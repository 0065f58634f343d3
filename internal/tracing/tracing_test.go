package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_RecordsAttributesAndStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("morpheus-test", "dev", exporter))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "gatekeeper.handle", map[string]string{"service": "github"})
	span.SetAttribute("approved", false)
	span.End(errors.New("vault unavailable"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "gatekeeper.handle", spans[0].Name)
	assert.Equal(t, "Error", spans[0].Status.Code.String())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "github", attrs["service"])
	assert.Equal(t, "false", attrs["approved"])
}

func TestNilSpanIsSafe(t *testing.T) {
	var s *Span
	s.SetAttribute("k", "v")
	s.End(nil)
}

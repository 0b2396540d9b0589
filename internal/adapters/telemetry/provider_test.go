package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupInstallsSDKProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown := Setup()
	require.NotNil(t, shutdown)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "global provider should be the SDK provider")

	// Tracers built after Setup run against the installed provider.
	tracer := NewOTelTracer("test")
	ctx, span := tracer.Start(context.Background(), "op")
	require.NotNil(t, ctx)
	span.SetAttribute("key", "value")
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

package telemetry

import (
	"context"

	"go.trai.ch/kiln/internal/core/ports"
)

// NoopTracer is a ports.Tracer that records nothing.
type NoopTracer struct{}

var _ ports.Tracer = NoopTracer{}

// NewNoopTracer creates a tracer that discards all spans.
func NewNoopTracer() NoopTracer {
	return NoopTracer{}
}

// Start returns a span that does nothing.
func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, ports.Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End() {}

func (noopSpan) RecordError(error) {}

func (noopSpan) SetAttribute(string, any) {}

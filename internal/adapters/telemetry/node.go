package telemetry

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/core/ports"
)

const NodeID graft.ID = "adapter.tracer"

func init() {
	graft.Register(graft.Node[ports.Tracer]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(ctx context.Context) (ports.Tracer, error) {
			return NewOTelTracer("kiln"), nil
		},
	})
}

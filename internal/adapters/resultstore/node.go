package resultstore

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/core/ports"
)

const NodeID graft.ID = "adapter.result_store"

func init() {
	graft.Register(graft.Node[ports.ResultStore]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{config.NodeID},
		Run: func(ctx context.Context) (ports.ResultStore, error) {
			project, err := graft.Dep[*config.Project](ctx)
			if err != nil {
				return nil, err
			}
			return NewStore(project.Root), nil
		},
	})
}

package pool

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/core/ports"
)

const NodeID graft.ID = "engine.pool"

func init() {
	graft.Register(graft.Node[*Manager]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{config.NodeID, logger.NodeID},
		Run: func(ctx context.Context) (*Manager, error) {
			project, err := graft.Dep[*config.Project](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewManager(
				project.Config.MaxProcesses,
				project.Config.EvictionGrace.Std(),
				log,
				NewPrometheusCollector(nil),
			), nil
		},
	})
}

package provision

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/core/ports"
)

const NodeID graft.ID = "adapter.provisioner"

func init() {
	graft.Register(graft.Node[ports.Provisioner]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{config.NodeID, logger.NodeID},
		Run: func(ctx context.Context) (ports.Provisioner, error) {
			project, err := graft.Dep[*config.Project](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}

			installer := NewCommandInstaller(project.Config.Installer, log)

			var opts []Option
			if project.Config.FreshEnvironments {
				opts = append(opts, WithForceFresh(true))
			}
			return NewProvisioner(project.Root, installer, log, opts...), nil
		},
	})
}

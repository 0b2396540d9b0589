package exec

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/adapters/provision"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/pool"
)

const NodeID graft.ID = "engine.executors"

// Set holds both execution strategies; the application picks one per run
// based on configuration.
type Set struct {
	Warm ports.Executor
	Cold ports.Executor
}

func init() {
	graft.Register(graft.Node[*Set]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{config.NodeID, logger.NodeID, telemetry.NodeID, provision.NodeID, pool.NodeID},
		Run: func(ctx context.Context) (*Set, error) {
			project, err := graft.Dep[*config.Project](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			tracer, err := graft.Dep[ports.Tracer](ctx)
			if err != nil {
				return nil, err
			}
			provisioner, err := graft.Dep[ports.Provisioner](ctx)
			if err != nil {
				return nil, err
			}
			manager, err := graft.Dep[*pool.Manager](ctx)
			if err != nil {
				return nil, err
			}

			timeouts := Timeouts{
				Call:    project.Config.CallTimeout.Std(),
				Startup: project.Config.StartupTimeout.Std(),
			}
			argv := project.Config.Worker

			return &Set{
				Warm: NewWarm(manager, provisioner, argv, timeouts, log, tracer),
				Cold: NewCold(provisioner, argv, timeouts, log, tracer),
			}, nil
		},
	})
}

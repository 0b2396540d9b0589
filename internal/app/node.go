package app

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/bundle"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/adapters/provision"
	"go.trai.ch/kiln/internal/adapters/resultstore"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/exec"
	"go.trai.ch/kiln/internal/engine/pool"
)

const (
	// AppNodeID is the unique identifier for the main App Graft node.
	AppNodeID graft.ID = "app.main"
	// ComponentsNodeID is the unique identifier for the App components Graft node.
	ComponentsNodeID graft.ID = "app.components"
)

// Components bundles everything the CLI entry point needs.
type Components struct {
	App     *App
	Logger  ports.Logger
	Project *config.Project
}

func init() {
	graft.Register(graft.Node[*App]{
		ID:        AppNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			config.NodeID,
			logger.NodeID,
			telemetry.NodeID,
			bundle.NodeID,
			resultstore.NodeID,
			provision.NodeID,
			exec.NodeID,
			pool.NodeID,
		},
		Run: runAppNode,
	})

	graft.Register(graft.Node[*Components]{
		ID:        ComponentsNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			AppNodeID,
			logger.NodeID,
			config.NodeID,
		},
		Run: runComponentsNode,
	})
}

func runAppNode(ctx context.Context) (*App, error) {
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
	repo, err := graft.Dep[ports.BundleRepository](ctx)
	if err != nil {
		return nil, err
	}
	store, err := graft.Dep[ports.ResultStore](ctx)
	if err != nil {
		return nil, err
	}
	provisioner, err := graft.Dep[ports.Provisioner](ctx)
	if err != nil {
		return nil, err
	}
	executors, err := graft.Dep[*exec.Set](ctx)
	if err != nil {
		return nil, err
	}
	manager, err := graft.Dep[*pool.Manager](ctx)
	if err != nil {
		return nil, err
	}

	return New(project, log, tracer, repo, store, executors.Warm, executors.Cold, provisioner, manager), nil
}

func runComponentsNode(ctx context.Context) (*Components, error) {
	application, err := graft.Dep[*App](ctx)
	if err != nil {
		return nil, err
	}
	log, err := graft.Dep[ports.Logger](ctx)
	if err != nil {
		return nil, err
	}
	project, err := graft.Dep[*config.Project](ctx)
	if err != nil {
		return nil, err
	}

	return &Components{
		App:     application,
		Logger:  log,
		Project: project,
	}, nil
}

package config

import (
	"context"
	"os"

	"github.com/grindlemire/graft"
)

const NodeID graft.ID = "adapter.config"

// Project is a loaded configuration together with the directory that anchors
// the engine's on-disk state.
type Project struct {
	Config *Config
	Root   string
}

func init() {
	graft.Register(graft.Node[*Project]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(ctx context.Context) (*Project, error) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			cfg, root, err := Load(wd)
			if err != nil {
				return nil, err
			}
			return &Project{Config: cfg, Root: root}, nil
		},
	})
}

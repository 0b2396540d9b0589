package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// Provisioner builds and validates isolated runtime environments.
//
// Ensure must be safe under contention from many concurrent callers across
// multiple processes: only one caller builds a given key at a time, and a
// caller that waited for the lock re-validates before building again.
//
//go:generate go run go.uber.org/mock/mockgen -source=provisioner.go -destination=mocks/mock_provisioner.go -package=mocks
type Provisioner interface {
	// Ensure returns a valid environment for the key, building it if needed.
	Ensure(ctx context.Context, key domain.PoolKey, manifest *domain.DependencyManifest) (*domain.Environment, error)

	// Remove explicitly destroys the environment for the key.
	// Environments are never destroyed implicitly.
	Remove(key domain.PoolKey) error

	// RemoveAll destroys every provisioned environment.
	RemoveAll() error
}

// Installer installs a bundle's declared dependency closure into an
// environment directory. Implementations typically shell out to a
// runtime-specific package manager.
type Installer interface {
	// Install materializes the manifest's dependency closure under env.Path.
	Install(ctx context.Context, env *domain.Environment, manifest *domain.DependencyManifest) error
}

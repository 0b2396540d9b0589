package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// BundleRepository resolves bundle references to local, digested bundles.
// The engine never fetches bundle content itself.
//
//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks
type BundleRepository interface {
	// EnsureLocal makes the bundle available locally and returns it with its
	// content digest and parsed dependency manifest.
	EnsureLocal(ctx context.Context, ref string) (*domain.Bundle, error)
}

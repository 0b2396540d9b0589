// Package ports defines the core interfaces for the engine.
package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// Executor runs a task against a bundle and returns its result.
//
// Engine-level faults (provisioning, startup, protocol, timeout) are returned
// as errors; a task that ran but failed on its own terms is returned as a
// Result with a TaskFailure and a nil error.
//
//go:generate go run go.uber.org/mock/mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// Run executes the task inside an isolated worker for the bundle.
	Run(ctx context.Context, bundle *domain.Bundle, task *domain.Task) (*domain.Result, error)
}

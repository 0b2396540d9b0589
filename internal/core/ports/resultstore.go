package ports

import "go.trai.ch/kiln/internal/core/domain"

// ResultStore is the provenance cache sitting in front of the execution
// engine. The caller checks it before dispatching and populates it after;
// the engine itself never queries the store.
//
//go:generate go run go.uber.org/mock/mockgen -source=resultstore.go -destination=mocks/mock_resultstore.go -package=mocks
type ResultStore interface {
	// Get retrieves the result for a task fingerprint.
	// Returns nil, nil if absent.
	Get(fingerprint string) (*domain.Result, error)

	// Put stores the result for a task fingerprint.
	Put(fingerprint string, result *domain.Result) error
}

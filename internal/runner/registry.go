// Package runner is the worker-side half of the wire protocol: a registry of
// task entry points and a serve loop that answers framed requests on stdio.
// Worker binaries embed it; the engine never imports it at runtime.
package runner

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Invocation carries one task's inputs into an entry point.
type Invocation struct {
	// Params is the parameter map, passed through from the engine verbatim.
	Params map[string]any
	// Seed is the task's numeric seed.
	Seed int64
	// Aggregate is true for execute_aggregation calls.
	Aggregate bool
	// Inputs holds the upstream results to aggregate. Empty for plain calls.
	Inputs []json.RawMessage
}

// Func is a task entry point. It returns named artifact payloads; a non-nil
// error is reported as a task failure without terminating the process.
type Func func(ctx context.Context, inv *Invocation) (map[string][]byte, error)

// Registry holds a bundle's registered entry points. Exactly one entry point
// must be registered for a worker to become ready.
type Registry struct {
	mu    sync.Mutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds an entry point under the given name. Registering the same
// name twice replaces the earlier function.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// resolve returns the single registered entry point.
func (r *Registry) resolve() (string, Func, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch len(r.funcs) {
	case 0:
		return "", nil, domain.ErrEntryPointNotFound
	case 1:
		for name, fn := range r.funcs {
			return name, fn, nil
		}
	}

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return "", nil, zerr.With(zerr.Wrap(domain.ErrEntryPointAmbiguous, "bundle registered more than one entry point"), "entry_points", names)
}

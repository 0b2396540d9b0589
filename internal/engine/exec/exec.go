// Package exec implements the two execution strategies: warm execution
// against pooled workers and cold execution with one process per task.
package exec

import (
	"encoding/json"
	"time"

	"go.trai.ch/kiln/internal/adapters/codec"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/worker"
	"go.trai.ch/zerr"
)

// Timeouts bundles the deadlines both strategies share.
type Timeouts struct {
	// Call bounds one task execution.
	Call time.Duration
	// Startup bounds the wait for a spawned worker's readiness.
	Startup time.Duration
}

func method(task *domain.Task) string {
	if task.Aggregate {
		return codec.MethodExecuteAggregation
	}
	return codec.MethodExecute
}

func payload(task *domain.Task) codec.ExecutePayload {
	return codec.ExecutePayload{
		Params: task.Params,
		Seed:   task.Seed,
		Inputs: task.Inputs,
	}
}

// mapResponse translates a wire response into the executor contract: task
// failures become a Result with a nil error, everything else is an engine
// fault.
func mapResponse(resp *codec.Response) (*domain.Result, error) {
	if resp.Error != nil {
		switch resp.Error.Type {
		case codec.ErrorTypeTask:
			return &domain.Result{Failure: &domain.TaskFailure{
				Message: resp.Error.Message,
				Type:    resp.Error.Type,
			}}, nil
		case codec.ErrorTypeStartup:
			return nil, zerr.With(zerr.Wrap(domain.ErrStartup, "worker reported a startup error"), "detail", resp.Error.Message)
		default:
			return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "worker reported a protocol error"), "detail", resp.Error.Message)
		}
	}

	var result domain.Result
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "malformed result payload"), "cause", err.Error())
	}

	for name, artifact := range result.Artifacts {
		if !artifact.Verify() {
			return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "artifact checksum mismatch"), "artifact", name)
		}
	}
	return &result, nil
}

// spawnOptions assembles the launch parameters shared by both strategies.
func spawnOptions(bundle *domain.Bundle, env *domain.Environment, key domain.PoolKey, argv []string, startup time.Duration, log ports.Logger, onExit func(string)) worker.SpawnOptions {
	return worker.SpawnOptions{
		Argv:           argv,
		Dir:            bundle.Path,
		BundlePath:     bundle.Path,
		Environment:    env,
		Key:            key,
		StartupTimeout: startup,
		OnExit:         onExit,
		Logger:         log,
	}
}

package exec

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/pool"
	"go.trai.ch/kiln/internal/engine/worker"
	"go.trai.ch/zerr"
)

// Warm executes tasks against pooled workers. Workers stay resident between
// tasks sharing a pool key, so repeated execution skips environment setup
// and process startup entirely.
type Warm struct {
	pool        *pool.Manager
	provisioner ports.Provisioner
	workerArgv  []string
	timeouts    Timeouts
	logger      ports.Logger
	tracer      ports.Tracer
}

var _ ports.Executor = (*Warm)(nil)

// NewWarm creates the warm executor.
func NewWarm(p *pool.Manager, provisioner ports.Provisioner, workerArgv []string, timeouts Timeouts, logger ports.Logger, tracer ports.Tracer) *Warm {
	return &Warm{
		pool:        p,
		provisioner: provisioner,
		workerArgv:  workerArgv,
		timeouts:    timeouts,
		logger:      logger,
		tracer:      tracer,
	}
}

// Run executes the task on the pooled worker for the bundle's key.
func (w *Warm) Run(ctx context.Context, bundle *domain.Bundle, task *domain.Task) (*domain.Result, error) {
	key, err := bundle.Key()
	if err != nil {
		return nil, err
	}

	ctx, span := w.tracer.Start(ctx, "exec.warm")
	defer span.End()
	span.SetAttribute("pool_key", key.ID())
	span.SetAttribute("entry_point", task.EntryPoint)

	h, err := w.pool.Acquire(ctx, key, w.spawnFor(bundle, key))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer w.pool.Release(h)

	resp, err := h.Call(ctx, method(task), payload(task), w.timeouts.Call)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := mapResponse(resp)
	if err != nil {
		// An engine-level fault in the response means the worker cannot be
		// trusted with another call; the deferred Release drops dead workers.
		h.Kill()
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// spawnFor builds the pool's spawn callback: provision the environment for
// the key, then launch a worker inside it.
func (w *Warm) spawnFor(bundle *domain.Bundle, key domain.PoolKey) pool.SpawnFunc {
	return func(ctx context.Context, onExit func(string)) (*worker.Handle, error) {
		env, err := w.provisioner.Ensure(ctx, key, bundle.Manifest)
		if err != nil {
			return nil, zerr.Wrap(err, "cannot provision environment for worker")
		}
		return worker.Spawn(ctx, spawnOptions(bundle, env, key, w.workerArgv, w.timeouts.Startup, w.logger, onExit))
	}
}

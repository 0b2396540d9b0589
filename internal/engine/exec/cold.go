package exec

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/worker"
	"go.trai.ch/zerr"
)

// Cold executes every task in a fresh worker process. The isolated
// environment is still cached and shared; only the process is per-task, so
// no interpreter state leaks between executions.
type Cold struct {
	provisioner ports.Provisioner
	workerArgv  []string
	timeouts    Timeouts
	logger      ports.Logger
	tracer      ports.Tracer
}

var _ ports.Executor = (*Cold)(nil)

// NewCold creates the cold executor.
func NewCold(provisioner ports.Provisioner, workerArgv []string, timeouts Timeouts, logger ports.Logger, tracer ports.Tracer) *Cold {
	return &Cold{
		provisioner: provisioner,
		workerArgv:  workerArgv,
		timeouts:    timeouts,
		logger:      logger,
		tracer:      tracer,
	}
}

// Run spawns a worker, executes the task once, and reaps the process
// regardless of outcome.
func (c *Cold) Run(ctx context.Context, bundle *domain.Bundle, task *domain.Task) (*domain.Result, error) {
	key, err := bundle.Key()
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "exec.cold")
	defer span.End()
	span.SetAttribute("pool_key", key.ID())
	span.SetAttribute("entry_point", task.EntryPoint)

	env, err := c.provisioner.Ensure(ctx, key, bundle.Manifest)
	if err != nil {
		span.RecordError(err)
		return nil, zerr.Wrap(err, "cannot provision environment for worker")
	}

	h, err := worker.Spawn(ctx, spawnOptions(bundle, env, key, c.workerArgv, c.timeouts.Startup, c.logger, nil))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer h.Kill()

	resp, err := h.Call(ctx, method(task), payload(task), c.timeouts.Call)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := mapResponse(resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

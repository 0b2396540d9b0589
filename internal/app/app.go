// Package app implements the application layer: bundle resolution, the
// provenance cache check, executor selection, and dispatch.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/pool"
	"go.trai.ch/zerr"
)

// App wires bundle resolution, caching, and execution into the single entry
// point the CLI drives.
type App struct {
	project     *config.Project
	logger      ports.Logger
	tracer      ports.Tracer
	repo        ports.BundleRepository
	store       ports.ResultStore
	warm        ports.Executor
	cold        ports.Executor
	provisioner ports.Provisioner
	pool        *pool.Manager
}

// New creates a new App instance.
func New(
	project *config.Project,
	log ports.Logger,
	tracer ports.Tracer,
	repo ports.BundleRepository,
	store ports.ResultStore,
	warm ports.Executor,
	cold ports.Executor,
	provisioner ports.Provisioner,
	p *pool.Manager,
) *App {
	return &App{
		project:     project,
		logger:      log,
		tracer:      tracer,
		repo:        repo,
		store:       store,
		warm:        warm,
		cold:        cold,
		provisioner: provisioner,
		pool:        p,
	}
}

// RunOptions adjusts a single Run invocation.
type RunOptions struct {
	// Executor overrides the configured strategy ("warm" or "cold").
	Executor string
	// NoCache skips the provenance cache in both directions.
	NoCache bool
}

// Run resolves the bundle, consults the provenance cache, and executes the
// task with the selected strategy. Successful results are cached by their
// fingerprint; failed results are never cached.
func (a *App) Run(ctx context.Context, ref string, task *domain.Task, opts RunOptions) (*domain.Result, error) {
	ctx, span := a.tracer.Start(ctx, "app.run")
	defer span.End()
	span.SetAttribute("bundle_ref", ref)
	span.SetAttribute("entry_point", task.EntryPoint)

	bundle, err := a.repo.EnsureLocal(ctx, ref)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	key, err := bundle.Key()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	fingerprint := task.Fingerprint(key)
	span.SetAttribute("fingerprint", fingerprint)

	if !opts.NoCache {
		cached, getErr := a.store.Get(fingerprint)
		if getErr != nil {
			// A corrupt cache entry must not block execution.
			a.logger.Warn(fmt.Sprintf("provenance cache read failed: %v", getErr))
		} else if cached != nil {
			a.logger.Info(fmt.Sprintf("cache hit for %.12s", fingerprint))
			span.SetAttribute("cache_hit", true)
			return cached, nil
		}
	}

	executor, err := a.selectExecutor(opts.Executor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := executor.Run(ctx, bundle, task)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !opts.NoCache && !result.Failed() {
		if putErr := a.store.Put(fingerprint, result); putErr != nil {
			a.logger.Warn(fmt.Sprintf("provenance cache write failed: %v", putErr))
		}
	}
	return result, nil
}

func (a *App) selectExecutor(override string) (ports.Executor, error) {
	name := a.project.Config.Executor
	if override != "" {
		name = override
	}

	switch name {
	case config.ExecutorWarm:
		return a.warm, nil
	case config.ExecutorCold:
		return a.cold, nil
	default:
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidExecutor, "unsupported executor"), "executor", name)
	}
}

// Config returns the loaded project configuration.
func (a *App) Config() *config.Project {
	return a.project
}

// Clean destroys cached state. Environment removal always goes through the
// provisioner, which owns the environments directory. With envsOnly the
// cached results survive; otherwise the whole cache directory is removed.
func (a *App) Clean(envsOnly bool) error {
	if err := a.provisioner.RemoveAll(); err != nil {
		return err
	}
	if envsOnly {
		return nil
	}

	target := filepath.Join(a.project.Root, domain.KilnDirName)
	if err := os.RemoveAll(target); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to remove cache directory"), "path", target)
	}
	return nil
}

// Shutdown drains the worker pool.
func (a *App) Shutdown(ctx context.Context) {
	if a.pool != nil {
		a.pool.Shutdown(ctx)
	}
}

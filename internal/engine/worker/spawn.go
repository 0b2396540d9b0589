package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.trai.ch/kiln/internal/adapters/codec"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// SpawnOptions configures a worker process launch.
type SpawnOptions struct {
	// Argv is the worker command line. Argv[0] is the executable.
	Argv []string
	// Dir is the working directory, normally the bundle path.
	Dir string
	// Env holds extra KEY=VALUE entries layered over the parent environment.
	Env []string
	// BundlePath and Environment locate the code and its dependency closure.
	BundlePath  string
	Environment *domain.Environment
	// Key identifies the pool slot this worker will serve.
	Key domain.PoolKey
	// StartupTimeout bounds the wait for the readiness frame.
	StartupTimeout time.Duration
	// OnExit is invoked once, asynchronously, when the process dies.
	OnExit func(id string)

	Logger ports.Logger
}

// Spawn launches a worker process and blocks until it reports readiness.
//
// The worker receives its bundle path, environment path, and pool key via
// KILN_* variables, emits the unsolicited readiness frame on stdout, and from
// then on speaks the framed request protocol. A process that exits, reports
// an error status, or stays silent past the startup timeout is reaped and
// the spawn fails with domain.ErrStartup.
func Spawn(ctx context.Context, opts SpawnOptions) (*Handle, error) {
	if len(opts.Argv) == 0 {
		return nil, zerr.Wrap(domain.ErrStartup, "empty worker command")
	}

	h := newHandle(opts.Key, opts.Logger, opts.OnExit)

	//nolint:gosec // G204: argv comes from the project configuration
	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env,
		"KILN_BUNDLE_PATH="+opts.BundlePath,
		"KILN_WORKER_ID="+h.id,
	)
	if opts.Environment != nil {
		cmd.Env = append(cmd.Env, "KILN_ENV_PATH="+opts.Environment.Path)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, zerr.Wrap(domain.ErrStartup, "failed to open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, zerr.Wrap(domain.ErrStartup, "failed to open worker stdout")
	}
	cmd.Stderr = &lineWriter{logger: opts.Logger, prefix: shortID(h.id)}

	h.cmd = cmd
	h.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrStartup, "failed to start worker process"), "cause", err.Error())
	}

	go h.readLoop(stdout)
	go h.waitLoop()

	if err := h.awaitReady(ctx, opts.StartupTimeout); err != nil {
		h.markDead(err)
		h.kill()
		<-h.exitCh
		return nil, err
	}

	h.state.Store(int32(domain.StateReady))
	h.touch()
	if opts.Logger != nil {
		opts.Logger.Info(fmt.Sprintf("worker %s ready (pid %d)", shortID(h.id), h.PID()))
	}
	return h, nil
}

func (h *Handle) awaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ready := <-h.readyCh:
		if ready.Status == codec.StatusReady {
			return nil
		}
		return startupError(ready)
	case <-timer.C:
		waitErr := zerr.With(zerr.Wrap(domain.ErrStartup, "worker did not report readiness in time"), "worker", h.id)
		return zerr.With(waitErr, "timeout", timeout.String())
	case <-h.exitCh:
		return zerr.With(zerr.Wrap(domain.ErrStartup, "worker exited before reporting readiness"), "worker", h.id)
	case <-ctx.Done():
		return zerr.Wrap(ctx.Err(), "worker spawn canceled")
	}
}

// startupError maps a failed readiness signal onto the error taxonomy.
func startupError(ready codec.ReadySignal) error {
	var base error
	switch ready.Code {
	case codec.ReadyCodeNotFound:
		base = domain.ErrEntryPointNotFound
	case codec.ReadyCodeAmbiguous:
		base = domain.ErrEntryPointAmbiguous
	default:
		base = domain.ErrStartup
	}
	if ready.Message == "" {
		return zerr.Wrap(base, "worker reported a startup failure")
	}
	return zerr.With(zerr.Wrap(base, "worker reported a startup failure"), "detail", ready.Message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

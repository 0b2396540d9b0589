// Package worker manages single worker processes: spawning, the stdio frame
// stream, call multiplexing, and teardown.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.trai.ch/kiln/internal/adapters/codec"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Handle is the engine-side representation of one worker process.
//
// A handle serializes calls: at most one request is in flight at a time, and
// concurrent Call invocations queue on an internal mutex. Throughput scales
// by adding pool entries, not by interleaving frames on one stream.
type Handle struct {
	id  string
	key domain.PoolKey

	cmd   *exec.Cmd
	stdin io.WriteCloser

	logger ports.Logger
	onExit func(id string)

	state atomic.Int32

	// callMu serializes the request/response cycle.
	callMu sync.Mutex
	// writeMu guards stdin so shutdown frames cannot interleave with a call.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *codec.Response
	nextID    atomic.Int64

	readyCh chan codec.ReadySignal

	exitOnce sync.Once
	exitCh   chan struct{}

	deadOnce sync.Once
	deadMu   sync.Mutex
	deadErr  error

	lastUsed atomic.Int64
	reuses   atomic.Int64
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Key returns the pool key this worker was provisioned for.
func (h *Handle) Key() domain.PoolKey { return h.key }

// PID returns the operating system process id.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (h *Handle) State() domain.WorkerState {
	return domain.WorkerState(h.state.Load())
}

// Alive reports whether the process can still accept calls.
func (h *Handle) Alive() bool {
	s := h.State()
	return s == domain.StateReady || s == domain.StateBusy
}

// LastUsed returns the time of the last completed call, or the readiness
// time if the worker has not served a call yet.
func (h *Handle) LastUsed() time.Time {
	return time.Unix(0, h.lastUsed.Load())
}

// Reuses returns how many calls this worker has completed.
func (h *Handle) Reuses() int64 {
	return h.reuses.Load()
}

func (h *Handle) touch() {
	h.lastUsed.Store(time.Now().UnixNano())
}

// Call sends one request and waits for its response.
//
// On timeout the process is killed and domain.ErrCallTimeout is returned; a
// timed-out worker may be mid-task and cannot be trusted with another call.
// If the process dies while the call is in flight, domain.ErrWorkerDead is
// returned. A successful cycle returns the worker to the ready state.
func (h *Handle) Call(ctx context.Context, method string, params any, timeout time.Duration) (*codec.Response, error) {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	if !h.Alive() {
		return nil, h.deathError()
	}
	h.state.Store(int32(domain.StateBusy))

	resp, err := h.roundTrip(ctx, method, params, timeout)
	if err != nil {
		return nil, err
	}

	h.touch()
	h.reuses.Add(1)
	// The reader may have observed a death while we were decoding.
	h.state.CompareAndSwap(int32(domain.StateBusy), int32(domain.StateReady))
	return resp, nil
}

func (h *Handle) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (*codec.Response, error) {
	id := h.nextID.Add(1)
	ch := make(chan *codec.Response, 1)

	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to encode call params")
	}

	if err := h.writeFrame(&codec.Request{ID: id, Method: method, Params: raw}); err != nil {
		h.markDead(zerr.Wrap(err, "request write failed"))
		h.kill()
		return nil, zerr.With(h.deathError(), "worker", h.id)
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, zerr.With(h.deathError(), "worker", h.id)
		}
		return resp, nil
	case <-timer.C:
		h.markDead(domain.ErrCallTimeout)
		h.kill()
		timeoutErr := zerr.With(zerr.Wrap(domain.ErrCallTimeout, "worker call timed out"), "worker", h.id)
		timeoutErr = zerr.With(timeoutErr, "pid", h.PID())
		timeoutErr = zerr.With(timeoutErr, "method", method)
		return nil, zerr.With(timeoutErr, "elapsed", time.Since(start).String())
	case <-ctx.Done():
		h.markDead(ctx.Err())
		h.kill()
		return nil, zerr.Wrap(ctx.Err(), "worker call canceled")
	case <-h.exitCh:
		return nil, zerr.With(h.deathError(), "worker", h.id)
	}
}

func (h *Handle) writeFrame(v any) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return codec.WriteFrame(h.stdin, v)
}

// Shutdown drains the worker gracefully: a shutdown request is sent and the
// process is given grace to exit on its own before being killed. Shutdown
// never fails; it reports only whether the exit was graceful.
func (h *Handle) Shutdown(ctx context.Context, grace time.Duration) (graceful bool) {
	if h.State() == domain.StateDead {
		return false
	}
	h.state.Store(int32(domain.StateDraining))

	payload, _ := json.Marshal(codec.ShutdownPayload{GraceSeconds: int(grace / time.Second)})
	req := &codec.Request{ID: h.nextID.Add(1), Method: codec.MethodShutdown, Params: payload}
	if err := h.writeFrame(req); err != nil {
		h.kill()
		<-h.exitCh
		return false
	}
	_ = h.stdin.Close()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.exitCh:
		h.markDead(domain.ErrWorkerDead)
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	h.kill()
	<-h.exitCh
	return false
}

// Kill terminates the process immediately.
func (h *Handle) Kill() {
	h.markDead(domain.ErrWorkerDead)
	h.kill()
	<-h.exitCh
}

func (h *Handle) kill() {
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

// markDead transitions the handle to the terminal state, fails every pending
// call, and fires the exit callback exactly once.
func (h *Handle) markDead(cause error) {
	h.deadOnce.Do(func() {
		h.deadMu.Lock()
		h.deadErr = cause
		h.deadMu.Unlock()

		h.state.Store(int32(domain.StateDead))

		h.pendingMu.Lock()
		for id, ch := range h.pending {
			close(ch)
			delete(h.pending, id)
		}
		h.pendingMu.Unlock()

		if h.onExit != nil {
			go h.onExit(h.id)
		}
	})
}

func (h *Handle) deathError() error {
	h.deadMu.Lock()
	cause := h.deadErr
	h.deadMu.Unlock()

	if cause == nil || errors.Is(cause, domain.ErrWorkerDead) {
		return zerr.Wrap(domain.ErrWorkerDead, "worker is not accepting calls")
	}
	return zerr.With(zerr.Wrap(domain.ErrWorkerDead, "worker is not accepting calls"), "cause", cause.Error())
}

// readLoop is the single reader of the worker's stdout. It routes response
// frames to their pending calls and the readiness frame to the spawn path.
func (h *Handle) readLoop(stdout io.Reader) {
	r := bufio.NewReader(stdout)
	for {
		resp, err := codec.ReadResponse(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.markDead(domain.ErrWorkerDead)
				return
			}
			h.markDead(err)
			h.kill()
			return
		}

		if resp.ID == codec.ReadyID {
			var ready codec.ReadySignal
			if err := json.Unmarshal(resp.Result, &ready); err != nil {
				h.markDead(zerr.Wrap(domain.ErrProtocol, "malformed readiness frame"))
				h.kill()
				return
			}
			select {
			case h.readyCh <- ready:
			default:
			}
			continue
		}

		h.pendingMu.Lock()
		ch, ok := h.pending[resp.ID]
		if ok {
			delete(h.pending, resp.ID)
		}
		h.pendingMu.Unlock()

		if !ok {
			// A response for a call that already timed out. Drop it.
			continue
		}
		ch <- resp
	}
}

// waitLoop reaps the process and publishes its exit.
func (h *Handle) waitLoop() {
	err := h.cmd.Wait()
	if err != nil {
		h.markDead(zerr.Wrap(domain.ErrWorkerDead, err.Error()))
	} else {
		h.markDead(domain.ErrWorkerDead)
	}
	h.exitOnce.Do(func() { close(h.exitCh) })
}

func newHandle(key domain.PoolKey, logger ports.Logger, onExit func(id string)) *Handle {
	h := &Handle{
		id:      uuid.NewString(),
		key:     key,
		logger:  logger,
		onExit:  onExit,
		pending: make(map[int64]chan *codec.Response),
		readyCh: make(chan codec.ReadySignal, 1),
		exitCh:  make(chan struct{}),
	}
	h.state.Store(int32(domain.StateStarting))
	return h
}

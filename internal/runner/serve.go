package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"go.trai.ch/kiln/internal/adapters/codec"
	"go.trai.ch/kiln/internal/core/domain"
)

// Serve speaks the worker side of the protocol on the given stream pair.
//
// It resolves the registry's single entry point, emits the readiness frame,
// then answers requests until a shutdown request, a clean stream close, or a
// protocol violation. Task failures travel inside responses; only transport
// faults make Serve return an error.
func Serve(ctx context.Context, in io.Reader, out io.Writer, reg *Registry) error {
	name, fn, err := reg.resolve()
	if err != nil {
		_ = writeReady(out, failedReady(err))
		return err
	}

	if err := writeReady(out, codec.ReadySignal{Status: codec.StatusReady, EntryPoint: name}); err != nil {
		return err
	}

	r := bufio.NewReader(in)
	for {
		req, err := codec.ReadRequest(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch req.Method {
		case codec.MethodExecute, codec.MethodExecuteAggregation:
			if err := respond(out, handleExecute(ctx, fn, req)); err != nil {
				return err
			}
		case codec.MethodShutdown:
			return respond(out, &codec.Response{ID: req.ID, Result: json.RawMessage(`{}`)})
		default:
			resp := &codec.Response{ID: req.ID, Error: &codec.ResponseError{
				Message: fmt.Sprintf("unknown method %q", req.Method),
				Type:    codec.ErrorTypeProtocol,
			}}
			if err := respond(out, resp); err != nil {
				return err
			}
		}
	}
}

func handleExecute(ctx context.Context, fn Func, req *codec.Request) *codec.Response {
	var payload codec.ExecutePayload
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &payload); err != nil {
			return &codec.Response{ID: req.ID, Error: &codec.ResponseError{
				Message: "malformed execute params: " + err.Error(),
				Type:    codec.ErrorTypeProtocol,
			}}
		}
	}

	inv := &Invocation{
		Params:    payload.Params,
		Seed:      payload.Seed,
		Aggregate: req.Method == codec.MethodExecuteAggregation,
		Inputs:    payload.Inputs,
	}

	outputs, err := invoke(ctx, fn, inv)
	if err != nil {
		return &codec.Response{ID: req.ID, Error: &codec.ResponseError{
			Message: err.Error(),
			Type:    codec.ErrorTypeTask,
		}}
	}

	result := domain.Result{Artifacts: make(map[string]domain.Artifact, len(outputs))}
	for name, data := range outputs {
		result.Artifacts[name] = domain.NewArtifact(data)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return &codec.Response{ID: req.ID, Error: &codec.ResponseError{
			Message: "failed to encode result: " + err.Error(),
			Type:    codec.ErrorTypeTask,
		}}
	}
	return &codec.Response{ID: req.ID, Result: body}
}

// invoke runs the entry point with panic containment. A panicking task is a
// task failure, not a dead worker.
func invoke(ctx context.Context, fn Func, inv *Invocation) (outputs map[string][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, inv)
}

func writeReady(out io.Writer, ready codec.ReadySignal) error {
	body, err := json.Marshal(ready)
	if err != nil {
		return err
	}
	return codec.WriteFrame(out, &codec.Response{ID: codec.ReadyID, Result: body})
}

func failedReady(err error) codec.ReadySignal {
	ready := codec.ReadySignal{Status: codec.StatusError, Message: err.Error()}
	switch {
	case errors.Is(err, domain.ErrEntryPointNotFound):
		ready.Code = codec.ReadyCodeNotFound
	case errors.Is(err, domain.ErrEntryPointAmbiguous):
		ready.Code = codec.ReadyCodeAmbiguous
	}
	return ready
}

func respond(out io.Writer, resp *codec.Response) error {
	return codec.WriteFrame(out, resp)
}

// Main serves the registry on the process's standard streams and exits with
// a non-zero status on failure. Worker binaries call it from their main.
func Main(reg *Registry) {
	if err := Serve(context.Background(), os.Stdin, os.Stdout, reg); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

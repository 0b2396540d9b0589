package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/codec"
	"go.trai.ch/kiln/internal/core/domain"
)

func frameRequest(t *testing.T, buf *bytes.Buffer, id int64, method string, params any) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	require.NoError(t, codec.WriteFrame(buf, &codec.Request{ID: id, Method: method, Params: raw}))
}

func readAllResponses(t *testing.T, out *bytes.Buffer) []*codec.Response {
	t.Helper()
	r := bufio.NewReader(out)
	var responses []*codec.Response
	for {
		resp, err := codec.ReadResponse(r)
		if err != nil {
			break
		}
		responses = append(responses, resp)
	}
	return responses
}

func decodeReady(t *testing.T, resp *codec.Response) codec.ReadySignal {
	t.Helper()
	require.EqualValues(t, codec.ReadyID, resp.ID)
	var ready codec.ReadySignal
	require.NoError(t, json.Unmarshal(resp.Result, &ready))
	return ready
}

func TestServeEmitsReadiness(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("render", func(_ context.Context, _ *Invocation) (map[string][]byte, error) {
		return nil, nil
	})

	var in, out bytes.Buffer
	require.NoError(t, Serve(context.Background(), &in, &out, reg))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 1)

	ready := decodeReady(t, responses[0])
	assert.Equal(t, codec.StatusReady, ready.Status)
	assert.Equal(t, "render", ready.EntryPoint)
}

func TestServeNoEntryPoint(t *testing.T) {
	t.Parallel()

	var in, out bytes.Buffer
	err := Serve(context.Background(), &in, &out, NewRegistry())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEntryPointNotFound))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 1)
	ready := decodeReady(t, responses[0])
	assert.Equal(t, codec.StatusError, ready.Status)
	assert.Equal(t, codec.ReadyCodeNotFound, ready.Code)
}

func TestServeAmbiguousEntryPoints(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	noop := func(_ context.Context, _ *Invocation) (map[string][]byte, error) { return nil, nil }
	reg.Register("first", noop)
	reg.Register("second", noop)

	var in, out bytes.Buffer
	err := Serve(context.Background(), &in, &out, reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEntryPointAmbiguous))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 1)
	assert.Equal(t, codec.ReadyCodeAmbiguous, decodeReady(t, responses[0]).Code)
}

func TestServeExecute(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("render", func(_ context.Context, inv *Invocation) (map[string][]byte, error) {
		assert.EqualValues(t, 42, inv.Seed)
		assert.Equal(t, "mesh", inv.Params["mode"])
		assert.False(t, inv.Aggregate)
		return map[string][]byte{"frame": []byte("pixels")}, nil
	})

	var in, out bytes.Buffer
	frameRequest(t, &in, 1, codec.MethodExecute, codec.ExecutePayload{
		Params: map[string]any{"mode": "mesh"},
		Seed:   42,
	})

	require.NoError(t, Serve(context.Background(), &in, &out, reg))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 2)

	resp := responses[1]
	assert.EqualValues(t, 1, resp.ID)
	require.Nil(t, resp.Error)

	var result domain.Result
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	artifact, ok := result.Artifacts["frame"]
	require.True(t, ok)
	assert.Equal(t, []byte("pixels"), artifact.Data)
	assert.True(t, artifact.Verify())
}

func TestServeAggregation(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("merge", func(_ context.Context, inv *Invocation) (map[string][]byte, error) {
		assert.True(t, inv.Aggregate)
		require.Len(t, inv.Inputs, 2)
		return map[string][]byte{"combined": []byte("ab")}, nil
	})

	var in, out bytes.Buffer
	frameRequest(t, &in, 1, codec.MethodExecuteAggregation, codec.ExecutePayload{
		Inputs: []json.RawMessage{
			json.RawMessage(`{"part":"a"}`),
			json.RawMessage(`{"part":"b"}`),
		},
	})

	require.NoError(t, Serve(context.Background(), &in, &out, reg))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 2)
	require.Nil(t, responses[1].Error)
}

func TestServeTaskFailureKeepsServing(t *testing.T) {
	t.Parallel()

	calls := 0
	reg := NewRegistry()
	reg.Register("flaky", func(_ context.Context, _ *Invocation) (map[string][]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("input out of range")
		}
		return map[string][]byte{"ok": []byte("y")}, nil
	})

	var in, out bytes.Buffer
	frameRequest(t, &in, 1, codec.MethodExecute, codec.ExecutePayload{})
	frameRequest(t, &in, 2, codec.MethodExecute, codec.ExecutePayload{})

	require.NoError(t, Serve(context.Background(), &in, &out, reg))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 3)

	first := responses[1]
	require.NotNil(t, first.Error)
	assert.Equal(t, codec.ErrorTypeTask, first.Error.Type)
	assert.Contains(t, first.Error.Message, "input out of range")

	second := responses[2]
	assert.Nil(t, second.Error)
}

func TestServePanicBecomesTaskError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("boom", func(_ context.Context, _ *Invocation) (map[string][]byte, error) {
		panic("unexpected nil")
	})

	var in, out bytes.Buffer
	frameRequest(t, &in, 1, codec.MethodExecute, codec.ExecutePayload{})

	require.NoError(t, Serve(context.Background(), &in, &out, reg))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, codec.ErrorTypeTask, responses[1].Error.Type)
	assert.Contains(t, responses[1].Error.Message, "task panicked")
}

func TestServeUnknownMethod(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("render", func(_ context.Context, _ *Invocation) (map[string][]byte, error) {
		return nil, nil
	})

	var in, out bytes.Buffer
	frameRequest(t, &in, 1, "reticulate", nil)

	require.NoError(t, Serve(context.Background(), &in, &out, reg))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, codec.ErrorTypeProtocol, responses[1].Error.Type)
}

func TestServeShutdownStopsLoop(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("render", func(_ context.Context, _ *Invocation) (map[string][]byte, error) {
		return nil, nil
	})

	var in, out bytes.Buffer
	frameRequest(t, &in, 1, codec.MethodShutdown, codec.ShutdownPayload{GraceSeconds: 1})
	// Anything after shutdown must not be processed.
	frameRequest(t, &in, 2, codec.MethodExecute, codec.ExecutePayload{})

	require.NoError(t, Serve(context.Background(), &in, &out, reg))

	responses := readAllResponses(t, &out)
	require.Len(t, responses, 2)
	assert.EqualValues(t, 1, responses[1].ID)
	assert.Nil(t, responses[1].Error)
}

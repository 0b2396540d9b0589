package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/codec"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/worker"
	"go.trai.ch/kiln/internal/runner"
)

const behaviorEnv = "KILN_TEST_POOL_BEHAVIOR"

func TestMain(m *testing.M) {
	behavior := os.Getenv(behaviorEnv)
	if behavior == "" {
		os.Exit(m.Run())
	}

	reg := runner.NewRegistry()
	switch behavior {
	case "echo":
		reg.Register("echo", func(_ context.Context, inv *runner.Invocation) (map[string][]byte, error) {
			payload, err := json.Marshal(inv.Params)
			if err != nil {
				return nil, err
			}
			return map[string][]byte{"echo": payload}, nil
		})
	case "slow":
		reg.Register("slow", func(_ context.Context, inv *runner.Invocation) (map[string][]byte, error) {
			ms, _ := inv.Params["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return map[string][]byte{"done": []byte("y")}, nil
		})
	}
	runner.Main(reg)
	os.Exit(0)
}

type countingCollector struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	deaths    atomic.Int64
	resident  atomic.Int64
	waits     atomic.Int64
}

func (c *countingCollector) PoolHit() { c.hits.Add(1) }

func (c *countingCollector) PoolMiss() { c.misses.Add(1) }

func (c *countingCollector) Eviction() { c.evictions.Add(1) }

func (c *countingCollector) WorkerDeath() { c.deaths.Add(1) }

func (c *countingCollector) SetResident(n int) { c.resident.Store(int64(n)) }

func (c *countingCollector) ObserveAcquireWait(time.Duration) { c.waits.Add(1) }

func poolKey(t *testing.T, name string) domain.PoolKey {
	t.Helper()
	key, err := domain.NewPoolKey(
		domain.Digest([]byte("code-"+name)),
		"runtime-1.0",
		domain.Digest([]byte("deps-"+name)),
	)
	require.NoError(t, err)
	return key
}

func echoSpawn(key domain.PoolKey) SpawnFunc {
	return behaviorSpawn(key, "echo")
}

func behaviorSpawn(key domain.PoolKey, behavior string) SpawnFunc {
	return func(ctx context.Context, onExit func(string)) (*worker.Handle, error) {
		return worker.Spawn(ctx, worker.SpawnOptions{
			Argv:           []string{os.Args[0]},
			Env:            []string{behaviorEnv + "=" + behavior},
			Key:            key,
			StartupTimeout: 10 * time.Second,
			OnExit:         onExit,
		})
	}
}

func newTestManager(capacity int, metrics Collector) *Manager {
	return NewManager(capacity, 2*time.Second, nil, metrics)
}

func TestAcquireMissThenHit(t *testing.T) {
	t.Parallel()

	metrics := &countingCollector{}
	m := newTestManager(2, metrics)
	defer m.Shutdown(context.Background())

	key := poolKey(t, "a")
	ctx := context.Background()

	h1, err := m.Acquire(ctx, key, echoSpawn(key))
	require.NoError(t, err)
	pid := h1.PID()
	m.Release(h1)

	h2, err := m.Acquire(ctx, key, echoSpawn(key))
	require.NoError(t, err)
	assert.Equal(t, pid, h2.PID())
	m.Release(h2)

	assert.EqualValues(t, 1, metrics.misses.Load())
	assert.EqualValues(t, 1, metrics.hits.Load())
	assert.EqualValues(t, 2, metrics.waits.Load())
	assert.Equal(t, 1, m.Len())
}

func TestEvictionIsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	metrics := &countingCollector{}
	m := newTestManager(2, metrics)
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	keyA, keyB, keyC := poolKey(t, "a"), poolKey(t, "b"), poolKey(t, "c")

	hA, err := m.Acquire(ctx, keyA, echoSpawn(keyA))
	require.NoError(t, err)
	m.Release(hA)

	hB, err := m.Acquire(ctx, keyB, echoSpawn(keyB))
	require.NoError(t, err)
	pidB := hB.PID()
	m.Release(hB)

	// Touch A so B becomes the least recently used.
	hA, err = m.Acquire(ctx, keyA, echoSpawn(keyA))
	require.NoError(t, err)
	pidA := hA.PID()
	m.Release(hA)

	hC, err := m.Acquire(ctx, keyC, echoSpawn(keyC))
	require.NoError(t, err)
	m.Release(hC)

	assert.Equal(t, 2, m.Len())
	assert.EqualValues(t, 1, metrics.evictions.Load())

	// A survived the eviction, B did not.
	hA, err = m.Acquire(ctx, keyA, echoSpawn(keyA))
	require.NoError(t, err)
	assert.Equal(t, pidA, hA.PID())
	m.Release(hA)

	hB, err = m.Acquire(ctx, keyB, echoSpawn(keyB))
	require.NoError(t, err)
	assert.NotEqual(t, pidB, hB.PID())
	m.Release(hB)
}

func TestLeasedWorkerIsNeverEvicted(t *testing.T) {
	t.Parallel()

	m := newTestManager(1, nil)
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	keyA, keyB := poolKey(t, "a"), poolKey(t, "b")

	hA, err := m.Acquire(ctx, keyA, echoSpawn(keyA))
	require.NoError(t, err)

	acquired := make(chan *worker.Handle, 1)
	go func() {
		hB, acqErr := m.Acquire(ctx, keyB, echoSpawn(keyB))
		if acqErr != nil {
			acquired <- nil
			return
		}
		acquired <- hB
	}()

	// The pool is full with a leased worker, so the second acquire must wait.
	select {
	case <-acquired:
		t.Fatal("acquire proceeded while the only slot was leased")
	case <-time.After(500 * time.Millisecond):
	}

	assert.True(t, hA.Alive())
	m.Release(hA)

	select {
	case hB := <-acquired:
		require.NotNil(t, hB)
		m.Release(hB)
	case <-time.After(15 * time.Second):
		t.Fatal("acquire did not proceed after release")
	}
}

func TestConcurrentAcquireSameKeySpawnsOnce(t *testing.T) {
	t.Parallel()

	m := newTestManager(4, nil)
	defer m.Shutdown(context.Background())

	key := poolKey(t, "a")
	var spawns atomic.Int64
	spawn := func(ctx context.Context, onExit func(string)) (*worker.Handle, error) {
		spawns.Add(1)
		return echoSpawn(key)(ctx, onExit)
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Acquire(context.Background(), key, spawn)
			if err != nil {
				errs[i] = err
				return
			}
			m.Release(h)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, spawns.Load())
	assert.Equal(t, 1, m.Len())
}

func TestDeadWorkerDroppedOnRelease(t *testing.T) {
	t.Parallel()

	metrics := &countingCollector{}
	m := newTestManager(2, metrics)
	defer m.Shutdown(context.Background())

	key := poolKey(t, "a")
	ctx := context.Background()

	h, err := m.Acquire(ctx, key, echoSpawn(key))
	require.NoError(t, err)
	pid := h.PID()

	h.Kill()
	m.Release(h)

	assert.Equal(t, 0, m.Len())
	assert.EqualValues(t, 1, metrics.deaths.Load())

	h, err = m.Acquire(ctx, key, echoSpawn(key))
	require.NoError(t, err)
	assert.NotEqual(t, pid, h.PID())
	m.Release(h)
}

func TestTimedOutWorkerDroppedOnRelease(t *testing.T) {
	t.Parallel()

	m := newTestManager(2, nil)
	defer m.Shutdown(context.Background())

	key := poolKey(t, "a")
	ctx := context.Background()

	h, err := m.Acquire(ctx, key, behaviorSpawn(key, "slow"))
	require.NoError(t, err)

	payload := codec.ExecutePayload{Params: map[string]any{"ms": float64(60_000)}}
	_, err = h.Call(ctx, codec.MethodExecute, payload, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCallTimeout))

	m.Release(h)
	assert.Equal(t, 0, m.Len())
}

func TestSpawnFailureLeavesNoSlot(t *testing.T) {
	t.Parallel()

	m := newTestManager(2, nil)
	defer m.Shutdown(context.Background())

	key := poolKey(t, "a")
	boom := errors.New("spawn exploded")
	spawn := func(context.Context, func(string)) (*worker.Handle, error) {
		return nil, boom
	}

	_, err := m.Acquire(context.Background(), key, spawn)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())

	// The failed reservation must not wedge later acquires.
	h, err := m.Acquire(context.Background(), key, echoSpawn(key))
	require.NoError(t, err)
	m.Release(h)
}

func TestAcquireAfterShutdown(t *testing.T) {
	t.Parallel()

	m := newTestManager(2, nil)

	key := poolKey(t, "a")
	h, err := m.Acquire(context.Background(), key, echoSpawn(key))
	require.NoError(t, err)
	m.Release(h)

	m.Shutdown(context.Background())
	assert.Equal(t, 0, m.Len())

	_, err = m.Acquire(context.Background(), key, echoSpawn(key))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPoolClosed))
}

func TestShutdownDuringSpawnReapsWorker(t *testing.T) {
	t.Parallel()

	m := newTestManager(2, nil)

	key := poolKey(t, "a")
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var spawned atomic.Pointer[worker.Handle]

	spawn := func(ctx context.Context, onExit func(string)) (*worker.Handle, error) {
		close(entered)
		<-proceed
		h, err := echoSpawn(key)(ctx, onExit)
		if err == nil {
			spawned.Store(h)
		}
		return h, err
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), key, spawn)
		errCh <- err
	}()

	<-entered
	m.Shutdown(context.Background())
	close(proceed)

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPoolClosed))
	assert.Equal(t, 0, m.Len())

	// The worker spawned into the closed pool must not outlive it.
	h := spawned.Load()
	require.NotNil(t, h)
	require.Eventually(t, func() bool { return !h.Alive() }, 10*time.Second, 20*time.Millisecond)
}

func TestAcquireHonorsCancellation(t *testing.T) {
	t.Parallel()

	m := newTestManager(1, nil)
	defer m.Shutdown(context.Background())

	keyA, keyB := poolKey(t, "a"), poolKey(t, "b")

	h, err := m.Acquire(context.Background(), keyA, echoSpawn(keyA))
	require.NoError(t, err)
	defer m.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, keyB, echoSpawn(keyB))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAcquireRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	m := newTestManager(1, nil)
	defer m.Shutdown(context.Background())

	_, err := m.Acquire(context.Background(), domain.PoolKey{CodeDigest: "short"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidPoolKey))
}

func TestSameKeyWaitersShareOneWorker(t *testing.T) {
	t.Parallel()

	m := newTestManager(2, nil)
	defer m.Shutdown(context.Background())

	key := poolKey(t, "a")
	pids := make(chan int, 4)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(context.Background(), key, echoSpawn(key))
			if err != nil {
				pids <- -1
				return
			}
			resp, callErr := h.Call(context.Background(), codec.MethodExecute, codec.ExecutePayload{
				Params: map[string]any{"n": fmt.Sprint(time.Now().UnixNano())},
			}, 10*time.Second)
			if callErr != nil || resp.Error != nil {
				pids <- -1
			} else {
				pids <- h.PID()
			}
			m.Release(h)
		}()
	}
	wg.Wait()
	close(pids)

	var first int
	for pid := range pids {
		require.Positive(t, pid)
		if first == 0 {
			first = pid
		}
		assert.Equal(t, first, pid)
	}
}

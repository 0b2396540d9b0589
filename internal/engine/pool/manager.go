// Package pool keeps warm worker processes resident, one per pool key, under
// a fixed capacity with least-recently-used eviction.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/worker"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// SpawnFunc creates the worker for a pool slot. The pool passes its own exit
// callback so a dying process removes itself from the pool.
type SpawnFunc func(ctx context.Context, onExit func(id string)) (*worker.Handle, error)

// entry is one pool slot. A slot is either being created (handle nil),
// leased to a caller, or idle and evictable.
type entry struct {
	keyID    string
	handle   *worker.Handle
	elem     *list.Element
	creating bool
	leased   bool
}

// Manager is the process pool. At most one worker exists per pool key; a
// worker is leased to exactly one caller at a time, and eviction never
// touches a leased or in-creation slot.
type Manager struct {
	capacity int
	grace    time.Duration
	logger   ports.Logger
	metrics  Collector

	mu       sync.Mutex
	cond     *sync.Cond
	closed   bool
	entries  map[string]*entry
	byWorker map[string]string
	// order holds every slot, most recently used at the front.
	order *list.List
}

// NewManager creates a pool bounded to capacity resident workers. Evicted
// workers get grace to exit before being killed.
func NewManager(capacity int, grace time.Duration, logger ports.Logger, metrics Collector) *Manager {
	if metrics == nil {
		metrics = NoopCollector{}
	}
	m := &Manager{
		capacity: capacity,
		grace:    grace,
		logger:   logger,
		metrics:  metrics,
		entries:  make(map[string]*entry),
		byWorker: make(map[string]string),
		order:    list.New(),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Acquire leases the worker for key, spawning one on a miss.
//
// When the slot exists but is leased, Acquire blocks until it is released.
// When the pool is full, the least recently used idle worker is evicted to
// make room; if every slot is leased, Acquire blocks until one frees up.
// The returned handle must be given back via Release.
func (m *Manager) Acquire(ctx context.Context, key domain.PoolKey, spawn SpawnFunc) (*worker.Handle, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	keyID := key.ID()
	start := time.Now()

	// Wake waiters when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return nil, domain.ErrPoolClosed
		}
		if err := ctx.Err(); err != nil {
			m.mu.Unlock()
			return nil, zerr.Wrap(err, "pool acquire canceled")
		}

		if e, ok := m.entries[keyID]; ok {
			if e.creating || e.leased {
				m.cond.Wait()
				continue
			}
			if !e.handle.Alive() {
				m.removeLocked(e)
				continue
			}
			e.leased = true
			m.order.MoveToFront(e.elem)
			m.mu.Unlock()
			m.metrics.PoolHit()
			m.metrics.ObserveAcquireWait(time.Since(start))
			return e.handle, nil
		}

		if len(m.entries) >= m.capacity {
			victim := m.idleVictimLocked()
			if victim == nil {
				m.cond.Wait()
				continue
			}
			m.removeLocked(victim)
			m.mu.Unlock()
			m.retire(victim.handle)
			m.metrics.Eviction()
			m.mu.Lock()
			continue
		}

		h, err := m.createLocked(ctx, keyID, spawn)
		if err == nil {
			m.metrics.ObserveAcquireWait(time.Since(start))
		}
		return h, err
	}
}

// createLocked reserves the slot, spawns outside the lock, then publishes
// the handle. Called with mu held; returns with mu released.
func (m *Manager) createLocked(ctx context.Context, keyID string, spawn SpawnFunc) (*worker.Handle, error) {
	e := &entry{keyID: keyID, creating: true, leased: true}
	e.elem = m.order.PushFront(e)
	m.entries[keyID] = e
	m.mu.Unlock()

	m.metrics.PoolMiss()
	h, err := spawn(ctx, m.handleExit)

	m.mu.Lock()
	if err != nil {
		m.removeLocked(e)
		m.cond.Broadcast()
		m.mu.Unlock()
		return nil, err
	}

	// Shutdown may have run while the spawn was in flight. The placeholder
	// slot is gone from the replaced maps, so the worker must be reaped here
	// or nothing ever will.
	if m.closed {
		m.mu.Unlock()
		h.Shutdown(ctx, m.grace)
		return nil, domain.ErrPoolClosed
	}

	e.handle = h
	e.creating = false
	m.byWorker[h.ID()] = keyID
	m.metrics.SetResident(len(m.entries))
	m.mu.Unlock()
	return h, nil
}

// Release returns a leased worker to the pool. Dead workers are dropped
// instead of being reinserted.
func (m *Manager) Release(h *worker.Handle) {
	m.mu.Lock()
	defer func() {
		m.cond.Broadcast()
		m.mu.Unlock()
	}()

	keyID, ok := m.byWorker[h.ID()]
	if !ok {
		return
	}
	e, ok := m.entries[keyID]
	if !ok || e.handle != h {
		return
	}

	if !h.Alive() {
		m.removeLocked(e)
		m.metrics.WorkerDeath()
		return
	}
	e.leased = false
}

// handleExit runs on the worker's exit goroutine and removes the dead slot.
func (m *Manager) handleExit(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyID, ok := m.byWorker[id]
	if !ok {
		return
	}
	e, ok := m.entries[keyID]
	if !ok || e.handle == nil || e.handle.ID() != id {
		return
	}

	// A leased slot is the leaseholder's to clean up via Release; reaping it
	// here would pull the entry out from under an in-flight call's bookkeeping.
	if e.leased {
		return
	}

	m.removeLocked(e)
	m.metrics.WorkerDeath()
	m.cond.Broadcast()
	if m.logger != nil {
		m.logger.Warn(fmt.Sprintf("worker %.8s exited, removed from pool", id))
	}
}

// Len returns the number of resident slots, including those being created.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Shutdown drains every resident worker. Safe to call once; subsequent
// acquires fail with domain.ErrPoolClosed.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	handles := make([]*worker.Handle, 0, len(m.entries))
	for _, e := range m.entries {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
	}
	m.entries = make(map[string]*entry)
	m.byWorker = make(map[string]string)
	m.order.Init()
	m.metrics.SetResident(0)
	m.cond.Broadcast()
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			h.Shutdown(ctx, m.grace)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) removeLocked(e *entry) {
	delete(m.entries, e.keyID)
	if e.elem != nil {
		m.order.Remove(e.elem)
	}
	if e.handle != nil {
		delete(m.byWorker, e.handle.ID())
	}
	m.metrics.SetResident(len(m.entries))
}

// idleVictimLocked returns the least recently used evictable slot.
func (m *Manager) idleVictimLocked() *entry {
	for elem := m.order.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry)
		if !e.creating && !e.leased {
			return e
		}
	}
	return nil
}

// retire gracefully drains an evicted worker. Runs outside the pool lock so
// a slow shutdown never stalls acquires.
func (m *Manager) retire(h *worker.Handle) {
	if h == nil {
		return
	}
	graceful := h.Shutdown(context.Background(), m.grace)
	if m.logger != nil {
		if graceful {
			m.logger.Info(fmt.Sprintf("evicted worker %.8s (graceful)", h.ID()))
		} else {
			m.logger.Warn(fmt.Sprintf("evicted worker %.8s (killed after grace)", h.ID()))
		}
	}
}

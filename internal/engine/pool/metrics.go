package pool

import "time"

// Collector receives pool lifecycle events. Implementations must be safe for
// concurrent use; the pool calls them outside its lock.
type Collector interface {
	// PoolHit records an acquire served by a resident worker.
	PoolHit()
	// PoolMiss records an acquire that had to spawn a worker.
	PoolMiss()
	// Eviction records a worker removed to make room.
	Eviction()
	// WorkerDeath records a worker that died outside of eviction.
	WorkerDeath()
	// SetResident reports the current number of pool slots.
	SetResident(n int)
	// ObserveAcquireWait records how long one Acquire took end to end,
	// including any spawn or wait for a leased worker.
	ObserveAcquireWait(d time.Duration)
}

// NoopCollector discards all events.
type NoopCollector struct{}

func (NoopCollector) PoolHit() {}

func (NoopCollector) PoolMiss() {}

func (NoopCollector) Eviction() {}

func (NoopCollector) WorkerDeath() {}

func (NoopCollector) SetResident(int) {}

func (NoopCollector) ObserveAcquireWait(time.Duration) {}

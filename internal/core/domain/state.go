package domain

// WorkerState is the lifecycle state of one worker process.
//
// Transitions: Starting → Ready ⇄ Busy, Ready → Draining (graceful eviction),
// any state → Dead. Dead is terminal; a dead worker is removed from the pool
// immediately and never reinserted.
type WorkerState int32

const (
	// StateStarting means the process is spawned but has not reported readiness.
	StateStarting WorkerState = iota
	// StateReady means the worker is resident and can accept a call.
	StateReady
	// StateBusy means a call is in flight.
	StateBusy
	// StateDraining means the worker is being gracefully shut down.
	StateDraining
	// StateDead means the process has exited or been terminated.
	StateDead
)

// String implements fmt.Stringer.
func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

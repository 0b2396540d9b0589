package domain

import "go.trai.ch/zerr"

var (
	// ErrProvisioningFailed is returned when building an isolated environment fails.
	// Provisioning failures are fatal and never retried by the engine.
	ErrProvisioningFailed = zerr.New("environment provisioning failed")

	// ErrStartup is returned when a worker fails its startup sequence, most
	// commonly because the bundle registered zero or multiple entry points.
	ErrStartup = zerr.New("worker startup failed")

	// ErrProtocol is returned when a wire frame is malformed or truncated.
	// The offending worker is considered dead and removed from the pool.
	ErrProtocol = zerr.New("wire protocol violation")

	// ErrCallTimeout is returned when a call exceeds its deadline. The worker
	// is killed and removed; the caller may retry against a fresh acquire.
	ErrCallTimeout = zerr.New("call exceeded deadline")

	// ErrTask is returned when the worker ran the task and the task itself
	// failed. This is not a pool or process fault; the process stays reusable.
	ErrTask = zerr.New("task execution failed")

	// ErrWorkerDead is returned when a call is attempted against, or
	// interrupted by, a dead worker process.
	ErrWorkerDead = zerr.New("worker process is dead")

	// ErrPoolClosed is returned when acquiring from a pool that has been shut down.
	ErrPoolClosed = zerr.New("process pool is closed")

	// ErrInvalidPoolKey is returned when a pool key is constructed from
	// partial inputs, such as a truncated digest.
	ErrInvalidPoolKey = zerr.New("invalid pool key")

	// ErrEntryPointNotFound is returned when a bundle registers no entry point.
	ErrEntryPointNotFound = zerr.New("no task entry point registered")

	// ErrEntryPointAmbiguous is returned when a bundle registers more than one entry point.
	ErrEntryPointAmbiguous = zerr.New("multiple task entry points registered")

	// ErrBundleNotFound is returned when a bundle reference cannot be resolved locally.
	ErrBundleNotFound = zerr.New("bundle not found")

	// ErrManifestReadFailed is returned when a bundle's dependency manifest cannot be read.
	ErrManifestReadFailed = zerr.New("failed to read dependency manifest")

	// ErrManifestParseFailed is returned when a bundle's dependency manifest cannot be parsed.
	ErrManifestParseFailed = zerr.New("failed to parse dependency manifest")

	// ErrConfigReadFailed is returned when the config file cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read config file")

	// ErrConfigParseFailed is returned when the config file cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse config file")

	// ErrInvalidExecutor is returned when the configured executor is neither warm nor cold.
	ErrInvalidExecutor = zerr.New("invalid executor, expected 'warm' or 'cold'")

	// ErrStoreReadFailed is returned when a provenance entry cannot be read.
	ErrStoreReadFailed = zerr.New("failed to read result store entry")

	// ErrStoreUnmarshalFailed is returned when a provenance entry cannot be unmarshaled.
	ErrStoreUnmarshalFailed = zerr.New("failed to unmarshal result store entry")

	// ErrStoreMarshalFailed is returned when a result cannot be marshaled for storage.
	ErrStoreMarshalFailed = zerr.New("failed to marshal result store entry")

	// ErrStoreWriteFailed is returned when a provenance entry cannot be written.
	ErrStoreWriteFailed = zerr.New("failed to write result store entry")

	// ErrMarkerInvalid is returned when an environment's completion marker is
	// missing, corrupt, or records a different dependency digest than the one
	// derived from the current manifest.
	ErrMarkerInvalid = zerr.New("environment marker invalid")
)

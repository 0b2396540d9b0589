package domain

import "time"

// Environment is one provisioned isolated environment on disk, keyed by its
// pool key. It is created once per key and destroyed only by explicit cleanup.
type Environment struct {
	Key  PoolKey
	Path string
}

// EnvironmentMarker is the completion marker written after a successful
// build. Validation on reuse compares DepsDigest byte-for-byte against the
// digest re-derived from the bundle's current manifest; a capability probe
// is never sufficient.
type EnvironmentMarker struct {
	DepsDigest     string    `json:"deps_digest"`
	RuntimeVersion string    `json:"runtime_version"`
	BuiltAt        time.Time `json:"built_at"`
}

package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// Task is an opaque unit of work routed to a worker process. The engine does
// not interpret task semantics beyond routing: the entry point names the
// bundle's registered function, params and seed are passed through verbatim.
type Task struct {
	// EntryPoint identifies the registered entry point inside the bundle.
	EntryPoint string
	// Params is the parameter map passed to the entry point.
	Params map[string]any
	// Seed is the numeric seed for the task.
	Seed int64
	// Aggregate selects the aggregation call path instead of plain execution.
	Aggregate bool
	// Inputs holds the upstream results fed to an aggregation call.
	Inputs []json.RawMessage
}

// Fingerprint derives the provenance-cache key for running the task against
// the given bundle. It covers the full pool key plus the task payload, so
// identical inputs against identical code always map to the same entry.
func (t *Task) Fingerprint(key PoolKey) string {
	var builder strings.Builder
	builder.WriteString(key.CodeDigest)
	builder.WriteString("\x00")
	builder.WriteString(key.RuntimeVersion)
	builder.WriteString("\x00")
	builder.WriteString(key.DepsDigest)
	builder.WriteString("\x00")
	builder.WriteString(t.EntryPoint)
	builder.WriteString("\x00")
	builder.WriteString(canonicalParams(t.Params))
	builder.WriteString("\x00")
	if t.Aggregate {
		builder.WriteString("aggregate")
	}
	builder.WriteString("\x00")
	for _, input := range t.Inputs {
		builder.WriteString(Digest(input))
		builder.WriteString("\x00")
	}

	seed := [8]byte{}
	for i := range 8 {
		seed[i] = byte(t.Seed >> (8 * i))
	}
	builder.Write(seed[:])

	return Digest([]byte(builder.String()))
}

// canonicalParams renders the parameter map deterministically. JSON encoding
// of Go maps sorts keys, but nested values are normalized here by marshaling
// key-by-key in sorted order.
func canonicalParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			// Unmarshalable values still need a stable representation.
			v = []byte("!" + k)
		}
		builder.WriteString(k)
		builder.WriteString("=")
		builder.Write(v)
		builder.WriteString(";")
	}
	return builder.String()
}

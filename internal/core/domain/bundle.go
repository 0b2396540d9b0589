// Package domain contains the core domain types for kiln.
package domain

import (
	"slices"
	"strings"
)

// Bundle is a versioned unit of task code plus its declared dependency
// manifest, identified by a content digest over the bundle tree.
type Bundle struct {
	// Ref is the reference the bundle was resolved from (currently a local path).
	Ref string
	// Digest is the content digest over the bundle's code tree.
	Digest string
	// Path is the local directory holding the bundle code.
	Path string
	// Manifest is the declared dependency manifest.
	Manifest *DependencyManifest
}

// Key derives the pool key for the bundle.
func (b *Bundle) Key() (PoolKey, error) {
	return NewPoolKey(b.Digest, b.Manifest.Runtime, b.Manifest.Digest())
}

// Dependency is a single pinned dependency declared by a bundle.
type Dependency struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DependencyManifest is the declared dependency closure of a bundle,
// parsed from its lock file.
type DependencyManifest struct {
	// Runtime is the runtime version the bundle requires (e.g. "worker/1.2").
	Runtime string `yaml:"runtime"`
	// Dependencies are the pinned packages of the closure.
	Dependencies []Dependency `yaml:"dependencies"`
}

// Canonical returns a deterministic byte representation of the manifest.
// Dependencies are sorted by name then version so digest derivation does not
// depend on lock file ordering.
func (m *DependencyManifest) Canonical() []byte {
	deps := slices.Clone(m.Dependencies)
	slices.SortFunc(deps, func(a, b Dependency) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Version, b.Version)
	})

	var builder strings.Builder
	builder.WriteString("runtime:")
	builder.WriteString(m.Runtime)
	builder.WriteString("\n")
	for _, dep := range deps {
		builder.WriteString(dep.Name)
		builder.WriteString("@")
		builder.WriteString(dep.Version)
		builder.WriteString("\n")
	}
	return []byte(builder.String())
}

// Digest computes the full-length digest of the canonical manifest bytes.
func (m *DependencyManifest) Digest() string {
	return Digest(m.Canonical())
}

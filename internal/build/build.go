// Package build holds version information injected at build time.
package build

// Populated via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

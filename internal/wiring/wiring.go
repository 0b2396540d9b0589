// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/kiln/internal/adapters/bundle"
	_ "go.trai.ch/kiln/internal/adapters/config"
	_ "go.trai.ch/kiln/internal/adapters/logger"
	_ "go.trai.ch/kiln/internal/adapters/provision"
	_ "go.trai.ch/kiln/internal/adapters/resultstore"
	_ "go.trai.ch/kiln/internal/adapters/telemetry"
	// Register app and engine nodes.
	_ "go.trai.ch/kiln/internal/app"
	_ "go.trai.ch/kiln/internal/engine/exec"
	_ "go.trai.ch/kiln/internal/engine/pool"
)

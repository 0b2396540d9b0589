// Package main is a reference worker binary. It registers a single echo
// entry point and serves the wire protocol on its standard streams; real
// deployments ship their own worker with the bundle's task code registered.
package main

import (
	"context"
	"encoding/json"

	"go.trai.ch/kiln/internal/runner"
)

func main() {
	reg := runner.NewRegistry()
	reg.Register("echo", func(_ context.Context, inv *runner.Invocation) (map[string][]byte, error) {
		payload, err := json.Marshal(map[string]any{
			"params": inv.Params,
			"seed":   inv.Seed,
			"inputs": len(inv.Inputs),
		})
		if err != nil {
			return nil, err
		}
		return map[string][]byte{"echo": payload}, nil
	})
	runner.Main(reg)
}

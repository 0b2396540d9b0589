package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

func (c *CLI) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <bundle>",
		Short: "Execute a task bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, _ := cmd.Flags().GetString("entry")
			seed, _ := cmd.Flags().GetInt64("seed")
			params, _ := cmd.Flags().GetStringArray("param")
			cold, _ := cmd.Flags().GetBool("cold")
			noCache, _ := cmd.Flags().GetBool("no-cache")

			parsed, err := parseParams(params)
			if err != nil {
				return err
			}

			task := &domain.Task{
				EntryPoint: entry,
				Params:     parsed,
				Seed:       seed,
			}

			opts := app.RunOptions{NoCache: noCache}
			if cold {
				opts.Executor = config.ExecutorCold
			}

			result, err := c.app.Run(cmd.Context(), args[0], task, opts)
			if err != nil {
				return err
			}

			if result.Failed() {
				return zerr.With(zerr.Wrap(domain.ErrTask, result.Failure.Message), "type", result.Failure.Type)
			}

			for name, artifact := range result.Artifacts {
				cmd.Printf("%s\t%d bytes\t%s\n", name, artifact.Size, artifact.Checksum)
			}
			return nil
		},
	}
	cmd.Flags().StringP("entry", "e", "", "Entry point name (informational; bundles register exactly one)")
	cmd.Flags().Int64P("seed", "s", 0, "Numeric task seed")
	cmd.Flags().StringArrayP("param", "p", nil, "Task parameter as key=value (value parsed as JSON when possible)")
	cmd.Flags().Bool("cold", false, "Execute in a fresh process instead of the warm pool")
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the provenance cache and force execution")
	return cmd
}

// parseParams turns key=value pairs into a parameter map. Values that parse
// as JSON keep their type; everything else stays a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, zerr.New(fmt.Sprintf("invalid parameter %q, expected key=value", pair))
		}

		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		params[key] = decoded
	}
	return params, nil
}

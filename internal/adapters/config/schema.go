package config

import (
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Executor selection values.
const (
	// ExecutorWarm reuses worker processes across tasks sharing a pool key.
	ExecutorWarm = "warm"
	// ExecutorCold spawns one fresh process per task.
	ExecutorCold = "cold"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrConfigParseFailed, "invalid duration"), "value", raw)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the engine configuration surface.
type Config struct {
	// Version is the config schema version.
	Version string `yaml:"version"`

	// MaxProcesses bounds concurrently-resident worker processes.
	MaxProcesses int `yaml:"maxProcesses"`

	// CallTimeout is the default per-call deadline.
	CallTimeout Duration `yaml:"callTimeout"`

	// StartupTimeout bounds the wait for a worker's readiness signal.
	StartupTimeout Duration `yaml:"startupTimeout"`

	// EvictionGrace bounds a graceful shutdown before force-termination.
	EvictionGrace Duration `yaml:"evictionGrace"`

	// Executor selects warm or cold execution.
	Executor string `yaml:"executor"`

	// FreshEnvironments forces a rebuild of every isolated environment.
	// Diagnostics only.
	FreshEnvironments bool `yaml:"freshEnvironments"`

	// Installer is the command installing a bundle's dependency closure.
	Installer []string `yaml:"installer"`

	// Worker is the command spawning a worker process for a bundle.
	Worker []string `yaml:"worker"`
}

// Defaults applied when the config file omits fields.
const (
	DefaultMaxProcesses   = 100
	DefaultCallTimeout    = 300 * time.Second
	DefaultStartupTimeout = 60 * time.Second
	DefaultEvictionGrace  = 5 * time.Second
)

func (c *Config) applyDefaults() {
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = DefaultMaxProcesses
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = Duration(DefaultCallTimeout)
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = Duration(DefaultStartupTimeout)
	}
	if c.EvictionGrace <= 0 {
		c.EvictionGrace = Duration(DefaultEvictionGrace)
	}
	if c.Executor == "" {
		c.Executor = ExecutorWarm
	}
	if len(c.Worker) == 0 {
		c.Worker = []string{"kiln-worker"}
	}
}

func (c *Config) validate() error {
	if c.Executor != ExecutorWarm && c.Executor != ExecutorCold {
		return zerr.With(zerr.Wrap(domain.ErrInvalidExecutor, "unsupported executor in config"), "executor", c.Executor)
	}
	return nil
}

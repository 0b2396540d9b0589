// Package config loads the engine configuration from kiln.yaml and the
// environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Environment variable overrides. Each takes precedence over the file value.
const (
	EnvMaxProcesses = "KILN_MAX_PROCESSES"
	EnvCallTimeout  = "KILN_CALL_TIMEOUT"
	EnvExecutor     = "KILN_EXECUTOR"
	EnvFresh        = "KILN_FRESH_ENVIRONMENTS"
)

// Load reads the configuration for the project containing startDir.
//
// The file is located by walking from startDir upward to the filesystem root;
// a missing file yields pure defaults. Environment overrides are applied on
// top of the file, then defaults fill the gaps.
func Load(startDir string) (*Config, string, error) {
	cfg := &Config{}
	root := startDir

	path, found, err := find(startDir)
	if err != nil {
		return nil, "", err
	}
	if found {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, "", zerr.With(zerr.Wrap(domain.ErrConfigReadFailed, "reading config file"), "path", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			parseErr := zerr.With(zerr.Wrap(domain.ErrConfigParseFailed, "parsing config file"), "path", path)
			return nil, "", zerr.With(parseErr, "cause", err.Error())
		}
		root = filepath.Dir(path)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, "", err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}
	return cfg, root, nil
}

// find walks upward from dir looking for the config file.
func find(dir string) (string, bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false, zerr.Wrap(domain.ErrConfigReadFailed, "resolving start directory")
	}

	for {
		candidate := filepath.Join(abs, domain.ConfigFileName)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, true, nil
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", false, nil
		}
		abs = parent
	}
}

func applyEnv(cfg *Config) error {
	if raw := os.Getenv(EnvMaxProcesses); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return zerr.With(zerr.With(zerr.Wrap(domain.ErrConfigParseFailed, "invalid process limit"), "var", EnvMaxProcesses), "value", raw)
		}
		cfg.MaxProcesses = n
	}

	if raw := os.Getenv(EnvCallTimeout); raw != "" {
		d, err := parseTimeout(raw)
		if err != nil {
			return zerr.With(zerr.With(zerr.Wrap(domain.ErrConfigParseFailed, "invalid call timeout"), "var", EnvCallTimeout), "value", raw)
		}
		cfg.CallTimeout = Duration(d)
	}

	if raw := os.Getenv(EnvExecutor); raw != "" {
		cfg.Executor = raw
	}

	if raw := os.Getenv(EnvFresh); raw != "" {
		fresh, err := strconv.ParseBool(raw)
		if err != nil {
			return zerr.With(zerr.With(zerr.Wrap(domain.ErrConfigParseFailed, "invalid fresh flag"), "var", EnvFresh), "value", raw)
		}
		cfg.FreshEnvironments = fresh
	}

	return nil
}

// parseTimeout accepts either a duration string ("45s") or bare seconds ("45").
func parseTimeout(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, zerr.Wrap(domain.ErrConfigParseFailed, "timeout must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, zerr.Wrap(domain.ErrConfigParseFailed, "timeout must be a positive duration")
	}
	return d, nil
}

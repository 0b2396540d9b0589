package provision

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// CommandInstaller implements ports.Installer by running a configured
// installer command with the environment path and manifest exposed through
// the process environment. The manifest is materialized as a canonical lock
// file inside the environment so the installer sees exactly the closure the
// digest was derived from.
type CommandInstaller struct {
	argv   []string
	logger ports.Logger
}

var _ ports.Installer = (*CommandInstaller)(nil)

// NewCommandInstaller creates an installer running the given command.
func NewCommandInstaller(argv []string, logger ports.Logger) *CommandInstaller {
	return &CommandInstaller{argv: argv, logger: logger}
}

// Install runs the installer command against the environment directory.
func (i *CommandInstaller) Install(
	ctx context.Context,
	env *domain.Environment,
	manifest *domain.DependencyManifest,
) error {
	if len(i.argv) == 0 {
		// No installer configured: the environment is the materialized
		// manifest alone. Valid for runtimes with no install step.
		return writeLockFile(env.Path, manifest)
	}

	if err := writeLockFile(env.Path, manifest); err != nil {
		return err
	}

	//nolint:gosec // argv comes from operator configuration, not task input
	cmd := exec.CommandContext(ctx, i.argv[0], i.argv[1:]...)
	cmd.Dir = env.Path
	cmd.Env = append(os.Environ(),
		"KILN_ENV_PATH="+env.Path,
		"KILN_MANIFEST="+filepath.Join(env.Path, domain.ManifestFileName),
		"KILN_RUNTIME="+manifest.Runtime,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return zerr.With(
			zerr.Wrap(err, "installer command failed"),
			"stderr", stderr.String(),
		)
	}

	i.logger.Info("installed dependency closure into " + env.Path)
	return nil
}

// writeLockFile materializes the canonical manifest inside the environment.
func writeLockFile(envPath string, manifest *domain.DependencyManifest) error {
	path := filepath.Join(envPath, domain.ManifestFileName)
	if err := os.WriteFile(path, manifest.Canonical(), domain.FilePerm); err != nil {
		return zerr.Wrap(err, "failed to write environment lock file")
	}
	return nil
}

// Package provision builds and validates isolated runtime environments,
// one per pool key, with per-key exclusive locking so concurrent callers
// never build the same environment twice.
package provision

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rogpeppe/go-internal/lockedfile"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

// Provisioner implements ports.Provisioner on the local filesystem.
//
// Two layers of exclusion guard a build: a singleflight group collapses
// concurrent callers inside this process, and a per-key lock file (flock,
// released by the OS if the holder crashes) serializes builders across
// processes. After acquiring the lock a builder re-validates the existing
// environment before building, because a concurrent builder may have
// finished while it waited.
type Provisioner struct {
	envsDir   string
	locksDir  string
	installer ports.Installer
	logger    ports.Logger

	// forceFresh bypasses reuse entirely and rebuilds on every Ensure.
	// Diagnostics only.
	forceFresh bool

	group singleflight.Group
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithForceFresh makes every Ensure rebuild the environment from scratch.
func WithForceFresh(force bool) Option {
	return func(p *Provisioner) {
		p.forceFresh = force
	}
}

// NewProvisioner creates a Provisioner rooted at the given project root.
func NewProvisioner(root string, installer ports.Installer, logger ports.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		envsDir:   domain.DefaultEnvsPath(root),
		locksDir:  domain.DefaultLocksPath(root),
		installer: installer,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure returns a valid environment for key, building it under the per-key
// lock if no valid one exists.
func (p *Provisioner) Ensure(
	ctx context.Context,
	key domain.PoolKey,
	manifest *domain.DependencyManifest,
) (*domain.Environment, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	result, err, _ := p.group.Do(key.ID(), func() (any, error) {
		return p.ensure(ctx, key, manifest)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Environment), nil
}

func (p *Provisioner) ensure(
	ctx context.Context,
	key domain.PoolKey,
	manifest *domain.DependencyManifest,
) (*domain.Environment, error) {
	env := &domain.Environment{
		Key:  key,
		Path: filepath.Join(p.envsDir, key.ID()),
	}

	// Fast path: a valid environment needs no lock.
	if !p.forceFresh && p.validate(env, manifest) == nil {
		return env, nil
	}

	if err := os.MkdirAll(p.locksDir, domain.DirPerm); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrProvisioningFailed, "failed to create locks directory"), "cause", err.Error())
	}

	mu := lockedfile.MutexAt(filepath.Join(p.locksDir, key.ID()+".lock"))
	unlock, err := mu.Lock()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to acquire provisioning lock")
	}
	defer unlock()

	// Re-check under the lock: a concurrent builder may have finished
	// while this caller waited.
	if !p.forceFresh {
		verr := p.validate(env, manifest)
		if verr == nil {
			return env, nil
		}
		p.logger.Info("environment invalid, rebuilding: " + verr.Error())
	}

	if err := p.build(ctx, env, manifest); err != nil {
		return nil, err
	}
	return env, nil
}

// build installs the dependency closure into a clean environment directory
// and writes the completion marker recording the exact digest it was built
// for. The marker is written last: a crash mid-build leaves no marker and
// the next caller rebuilds.
func (p *Provisioner) build(
	ctx context.Context,
	env *domain.Environment,
	manifest *domain.DependencyManifest,
) error {
	if err := os.RemoveAll(env.Path); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrProvisioningFailed, "failed to clear environment directory"), "path", env.Path)
	}
	if err := os.MkdirAll(env.Path, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrProvisioningFailed, "failed to create environment directory"), "path", env.Path)
	}

	if err := p.installer.Install(ctx, env, manifest); err != nil {
		installErr := zerr.With(zerr.Wrap(domain.ErrProvisioningFailed, "dependency installation failed"), "key", env.Key.ID())
		return zerr.With(installErr, "cause", err.Error())
	}

	marker := domain.EnvironmentMarker{
		DepsDigest:     manifest.Digest(),
		RuntimeVersion: manifest.Runtime,
	}
	if err := writeMarker(env.Path, marker); err != nil {
		return err
	}
	return nil
}

// validate checks the completion marker against the digest re-derived from
// the current manifest. A missing, corrupt, or mismatched marker fails
// validation; "some expected capability is importable" is never checked
// because it cannot distinguish an environment built for a different bundle.
func (p *Provisioner) validate(env *domain.Environment, manifest *domain.DependencyManifest) error {
	marker, err := readMarker(env.Path)
	if err != nil {
		return err
	}
	if marker.DepsDigest != manifest.Digest() {
		return zerr.With(
			zerr.Wrap(domain.ErrMarkerInvalid, "dependency digest mismatch"),
			"marker_digest", marker.DepsDigest,
		)
	}
	if marker.RuntimeVersion != manifest.Runtime {
		return zerr.Wrap(domain.ErrMarkerInvalid, "runtime version mismatch")
	}
	return nil
}

// Remove explicitly destroys the environment for key.
func (p *Provisioner) Remove(key domain.PoolKey) error {
	path := filepath.Join(p.envsDir, key.ID())
	if err := os.RemoveAll(path); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to remove environment"), "path", path)
	}
	return nil
}

// RemoveAll destroys every provisioned environment.
func (p *Provisioner) RemoveAll() error {
	if err := os.RemoveAll(p.envsDir); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to remove environments directory"), "path", p.envsDir)
	}
	return nil
}

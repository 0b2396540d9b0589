package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func quietLogger(t *testing.T) *mocks.MockLogger {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	log.EXPECT().Error(gomock.Any()).AnyTimes()
	return log
}

func testManifest() *domain.DependencyManifest {
	return &domain.DependencyManifest{
		Runtime: "runtime-1.0",
		Dependencies: []domain.Dependency{
			{Name: "numlib", Version: "2.1.0"},
		},
	}
}

func manifestKey(t *testing.T, manifest *domain.DependencyManifest) domain.PoolKey {
	t.Helper()
	key, err := domain.NewPoolKey(domain.Digest([]byte("code")), manifest.Runtime, manifest.Digest())
	require.NoError(t, err)
	return key
}

// countingInstaller counts builds and drops a file into the environment so
// tests can observe the installed closure.
type countingInstaller struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (i *countingInstaller) Install(_ context.Context, env *domain.Environment, _ *domain.DependencyManifest) error {
	i.mu.Lock()
	i.calls++
	i.mu.Unlock()

	if i.fail != nil {
		return i.fail
	}
	return os.WriteFile(filepath.Join(env.Path, "closure.txt"), []byte("installed"), 0o644)
}

func (i *countingInstaller) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

func TestEnsureBuildsOnceThenReuses(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	env, err := p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(domain.DefaultEnvsPath(root), key.ID()), env.Path)
	assert.FileExists(t, filepath.Join(env.Path, "closure.txt"))
	assert.FileExists(t, filepath.Join(env.Path, domain.MarkerFileName))

	_, err = p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)
	assert.Equal(t, 1, installer.count())
}

func TestEnsureConcurrentSingleBuild(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Ensure(context.Background(), key, manifest)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, installer.count())
}

func TestEnsureRebuildsWhenMarkerMissing(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	env, err := p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)

	// A crash mid-build leaves content without a marker.
	require.NoError(t, os.Remove(filepath.Join(env.Path, domain.MarkerFileName)))

	_, err = p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)
	assert.Equal(t, 2, installer.count())
}

func TestEnsureRebuildsWhenMarkerCorrupt(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	env, err := p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(env.Path, domain.MarkerFileName), []byte("{broken"), 0o644))

	_, err = p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)
	assert.Equal(t, 2, installer.count())
}

func TestEnsureRebuildsWhenManifestChanges(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	env, err := p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)

	// Same directory, different closure: marker digest comparison must catch it.
	changed := testManifest()
	changed.Dependencies[0].Version = "3.0.0"

	_, err = p.Ensure(context.Background(), key, changed)
	require.NoError(t, err)
	assert.Equal(t, 2, installer.count())

	marker, err := readMarker(env.Path)
	require.NoError(t, err)
	assert.Equal(t, changed.Digest(), marker.DepsDigest)
}

func TestEnsureForceFreshAlwaysRebuilds(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t), WithForceFresh(true))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	for range 3 {
		_, err := p.Ensure(context.Background(), key, manifest)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, installer.count())
}

func TestEnsureInstallFailureLeavesNoMarker(t *testing.T) {
	root := t.TempDir()
	boom := errors.New("resolver exploded")
	installer := &countingInstaller{fail: boom}
	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	_, err := p.Ensure(context.Background(), key, manifest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProvisioningFailed))

	envPath := filepath.Join(domain.DefaultEnvsPath(root), key.ID())
	assert.NoFileExists(t, filepath.Join(envPath, domain.MarkerFileName))

	// The next caller retries the build instead of trusting the wreckage.
	installer.fail = nil
	_, err = p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)
	assert.Equal(t, 2, installer.count())
}

func TestEnsureInstallFailureUsesMockInstaller(t *testing.T) {
	root := t.TempDir()
	ctrl := gomock.NewController(t)
	installer := mocks.NewMockInstaller(ctrl)
	installer.EXPECT().
		Install(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("network unreachable"))

	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	_, err := p.Ensure(context.Background(), manifestKey(t, manifest), manifest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProvisioningFailed))
}

func TestEnsureRejectsInvalidKey(t *testing.T) {
	p := NewProvisioner(t.TempDir(), &countingInstaller{}, quietLogger(t))

	_, err := p.Ensure(context.Background(), domain.PoolKey{CodeDigest: "short"}, testManifest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidPoolKey))
}

func TestRemoveDestroysEnvironment(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t))

	manifest := testManifest()
	key := manifestKey(t, manifest)

	env, err := p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)
	require.DirExists(t, env.Path)

	require.NoError(t, p.Remove(key))
	assert.NoDirExists(t, env.Path)

	// Removal is explicit and final; the next Ensure rebuilds from scratch.
	_, err = p.Ensure(context.Background(), key, manifest)
	require.NoError(t, err)
	assert.Equal(t, 2, installer.count())
}

func TestRemoveAllDestroysEveryEnvironment(t *testing.T) {
	root := t.TempDir()
	installer := &countingInstaller{}
	p := NewProvisioner(root, installer, quietLogger(t))

	first := testManifest()
	second := testManifest()
	second.Dependencies[0].Version = "3.0.0"

	envA, err := p.Ensure(context.Background(), manifestKey(t, first), first)
	require.NoError(t, err)
	envB, err := p.Ensure(context.Background(), manifestKey(t, second), second)
	require.NoError(t, err)
	require.NotEqual(t, envA.Path, envB.Path)

	require.NoError(t, p.RemoveAll())
	assert.NoDirExists(t, envA.Path)
	assert.NoDirExists(t, envB.Path)
	assert.NoDirExists(t, domain.DefaultEnvsPath(root))
}

// Package bundle implements the local bundle repository: it resolves bundle
// references to on-disk bundle trees and derives their content digests.
package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Repository implements ports.BundleRepository for local paths. Remote
// artifact stores live behind the same port; this adapter only guarantees
// that a reference already on disk is digested and parsed consistently.
type Repository struct {
	logger ports.Logger
}

var _ ports.BundleRepository = (*Repository)(nil)

// NewRepository creates a local bundle repository.
func NewRepository(logger ports.Logger) *Repository {
	return &Repository{logger: logger}
}

// EnsureLocal resolves ref to a local bundle, computing its content digest
// and parsing its dependency manifest.
func (r *Repository) EnsureLocal(_ context.Context, ref string) (*domain.Bundle, error) {
	info, err := os.Stat(ref)
	if err != nil || !info.IsDir() {
		return nil, zerr.With(zerr.Wrap(domain.ErrBundleNotFound, "not a local bundle directory"), "ref", ref)
	}

	path, err := filepath.Abs(ref)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve bundle path")
	}

	manifest, err := loadManifest(path)
	if err != nil {
		return nil, err
	}

	digest, err := digestTree(path)
	if err != nil {
		return nil, err
	}

	return &domain.Bundle{
		Ref:      ref,
		Digest:   digest,
		Path:     path,
		Manifest: manifest,
	}, nil
}

// digestTree computes the bundle's content digest: every regular file is
// hashed individually, then the sorted (path, hash) pairs are folded into
// one digest. Renaming a file changes the digest even when content is
// unchanged, which is intended: entry-point resolution depends on layout.
func digestTree(root string) (string, error) {
	type fileHash struct {
		rel string
		sum uint64
	}
	var files []fileHash

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			// Engine metadata and VCS internals are not bundle content.
			if name == domain.KilnDirName || name == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		sum, err := hashFile(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, fileHash{rel: filepath.ToSlash(rel), sum: sum})
		return nil
	})
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to walk bundle tree"), "root", root)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	digest := sha256.New()
	for _, f := range files {
		_, _ = io.WriteString(digest, f.rel)
		_, _ = digest.Write([]byte{0})
		_, _ = io.WriteString(digest, fmt.Sprintf("%016x", f.sum))
		_, _ = digest.Write([]byte{0})
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// hashFile computes the content hash of a single file.
func hashFile(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path comes from the walked bundle tree
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open bundle file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash bundle file"), "path", path)
	}
	return hasher.Sum64(), nil
}

// loadManifest reads and parses the bundle's dependency lock file.
func loadManifest(root string) (*domain.DependencyManifest, error) {
	path := filepath.Join(root, domain.ManifestFileName)
	//nolint:gosec // Path is the well-known manifest name under the bundle root
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, zerr.With(zerr.Wrap(domain.ErrManifestReadFailed, "manifest file missing"), "path", path)
		}
		return nil, zerr.With(zerr.Wrap(domain.ErrManifestReadFailed, "reading manifest file"), "cause", err.Error())
	}

	var manifest domain.DependencyManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrManifestParseFailed, "invalid manifest yaml"), "cause", err.Error())
	}
	if strings.TrimSpace(manifest.Runtime) == "" {
		return nil, zerr.Wrap(domain.ErrManifestParseFailed, "manifest missing runtime version")
	}
	return &manifest, nil
}

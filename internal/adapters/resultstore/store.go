// Package resultstore implements the file-backed provenance store that sits
// in front of the execution engine.
package resultstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Store implements ports.ResultStore using a file-per-fingerprint strategy.
type Store struct {
	dir string
}

var _ ports.ResultStore = (*Store)(nil)

// NewStore creates a result store rooted at the given project root.
func NewStore(root string) *Store {
	return &Store{dir: domain.DefaultResultsPath(root)}
}

// Get retrieves the result for a task fingerprint. Returns nil, nil if absent.
func (s *Store) Get(fingerprint string) (*domain.Result, error) {
	//nolint:gosec // Fingerprints are hex digests, not user paths
	data, err := os.ReadFile(s.filename(fingerprint))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(domain.ErrStoreReadFailed, "reading cache entry"), "cause", err.Error())
	}

	var result domain.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrStoreUnmarshalFailed, "decoding cache entry"), "cause", err.Error())
	}
	return &result, nil
}

// Put stores the result for a task fingerprint.
func (s *Store) Put(fingerprint string, result *domain.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrStoreMarshalFailed, "encoding cache entry"), "cause", err.Error())
	}

	if err := os.MkdirAll(s.dir, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrStoreWriteFailed, "creating cache directory"), "cause", err.Error())
	}

	//nolint:gosec // Fingerprints are hex digests, not user paths
	if err := os.WriteFile(s.filename(fingerprint), data, domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrStoreWriteFailed, "writing cache entry"), "cause", err.Error())
	}
	return nil
}

func (s *Store) filename(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".json")
}

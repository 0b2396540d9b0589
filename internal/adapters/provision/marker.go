package provision

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// readMarker loads the completion marker of an environment directory.
func readMarker(envPath string) (*domain.EnvironmentMarker, error) {
	path := filepath.Join(envPath, domain.MarkerFileName)
	//nolint:gosec // Path is constructed from the trusted environments directory
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, zerr.Wrap(domain.ErrMarkerInvalid, "marker missing")
		}
		return nil, zerr.Wrap(err, "failed to read environment marker")
	}

	var marker domain.EnvironmentMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, zerr.Wrap(domain.ErrMarkerInvalid, "marker corrupt")
	}
	return &marker, nil
}

// writeMarker atomically writes the completion marker: temp file in the
// same directory, then rename.
func writeMarker(envPath string, marker domain.EnvironmentMarker) error {
	marker.BuiltAt = time.Now().UTC()

	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to marshal environment marker")
	}

	tmpFile, err := os.CreateTemp(envPath, "env-marker-*.json")
	if err != nil {
		return zerr.Wrap(err, "failed to create temp marker file")
	}
	tmpName := tmpFile.Name()

	defer func() {
		if _, err := os.Stat(tmpName); err == nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return zerr.Wrap(err, "failed to write marker file")
	}
	if err := tmpFile.Close(); err != nil {
		return zerr.Wrap(err, "failed to close temp marker file")
	}
	if err := os.Chmod(tmpName, domain.FilePerm); err != nil {
		return zerr.Wrap(err, "failed to chmod marker file")
	}
	if err := os.Rename(tmpName, filepath.Join(envPath, domain.MarkerFileName)); err != nil {
		return zerr.Wrap(err, "failed to rename temp marker file")
	}
	return nil
}

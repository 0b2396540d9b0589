package domain

import "path/filepath"

const (
	// KilnDirName is the name of the internal workspace directory.
	KilnDirName = ".kiln"

	// EnvsDirName is the name of the isolated environments directory.
	EnvsDirName = "envs"

	// LocksDirName is the name of the provisioning lock directory.
	LocksDirName = "locks"

	// ResultsDirName is the name of the provenance store directory.
	ResultsDirName = "results"

	// ConfigFileName is the name of the engine configuration file.
	ConfigFileName = "kiln.yaml"

	// ManifestFileName is the name of a bundle's dependency lock file.
	ManifestFileName = "deps.lock.yaml"

	// MarkerFileName is the name of the environment completion marker.
	MarkerFileName = "env.json"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644

	// PrivateFilePerm is the default permission for private files (rw-------).
	PrivateFilePerm = 0o600
)

// DefaultEnvsPath returns the path for isolated environments under root.
func DefaultEnvsPath(root string) string {
	return filepath.Join(root, KilnDirName, EnvsDirName)
}

// DefaultLocksPath returns the path for provisioning locks under root.
func DefaultLocksPath(root string) string {
	return filepath.Join(root, KilnDirName, LocksDirName)
}

// DefaultResultsPath returns the path for the provenance store under root.
func DefaultResultsPath(root string) string {
	return filepath.Join(root, KilnDirName, ResultsDirName)
}

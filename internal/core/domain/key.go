package domain

import (
	"crypto/sha256"
	"encoding/hex"

	"go.trai.ch/zerr"
)

// DigestLength is the length in hex characters of a content digest.
// Keys are only comparable when both digests carry the full length;
// truncated digests are rejected at construction time.
const DigestLength = sha256.Size * 2

// PoolKey is the composite identity of one isolated runtime environment:
// the bundle's code digest, the runtime version it declares, and the digest
// of its dependency manifest. Any change to code or dependencies yields a
// different key.
type PoolKey struct {
	CodeDigest     string
	RuntimeVersion string
	DepsDigest     string
}

// NewPoolKey constructs a PoolKey, rejecting partial inputs.
func NewPoolKey(codeDigest, runtimeVersion, depsDigest string) (PoolKey, error) {
	k := PoolKey{
		CodeDigest:     codeDigest,
		RuntimeVersion: runtimeVersion,
		DepsDigest:     depsDigest,
	}
	if err := k.Validate(); err != nil {
		return PoolKey{}, err
	}
	return k, nil
}

// Validate checks that both digests are full-length hex and the runtime
// version is present.
func (k PoolKey) Validate() error {
	if len(k.CodeDigest) != DigestLength {
		return zerr.With(zerr.Wrap(ErrInvalidPoolKey, "code digest must be full length"), "code_digest", k.CodeDigest)
	}
	if len(k.DepsDigest) != DigestLength {
		return zerr.With(zerr.Wrap(ErrInvalidPoolKey, "deps digest must be full length"), "deps_digest", k.DepsDigest)
	}
	if k.RuntimeVersion == "" {
		return zerr.Wrap(ErrInvalidPoolKey, "missing runtime version")
	}
	return nil
}

// ID returns a deterministic, filesystem-safe identifier for the key.
// It hashes the full tuple so the identifier stays fixed-length regardless
// of the runtime version string.
func (k PoolKey) ID() string {
	h := sha256.New()
	_, _ = h.Write([]byte(k.CodeDigest))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.RuntimeVersion))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.DepsDigest))
	return hex.EncodeToString(h.Sum(nil))
}

// Digest computes the hex digest of arbitrary content bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Package fsident assigns a stable identity to every file the pipeline
// touches and provides an LRU content cache with mtime/size/TTL
// invalidation.
package fsident

import (
	"crypto/md5"  //nolint:gosec // identity fallback hash, not a security boundary
	"crypto/sha1" //nolint:gosec // identity fallback hash, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"syscall"
)

// HashAlgo selects the content-hash algorithm used as a fallback identity on
// platforms without device/inode metadata.
type HashAlgo string

const (
	HashSHA256 HashAlgo = "sha256"
	HashSHA1   HashAlgo = "sha1"
	HashMD5    HashAlgo = "md5"
)

// Identity uniquely identifies a physical file for the lifetime of a run.
// Two AttachmentSpecs resolving to the same Identity MUST share a single
// remote upload.
type Identity struct {
	// Device/Inode identify the file on POSIX-like systems. Zero when the
	// platform fallback (ContentHash) was used instead.
	Device uint64
	Inode  uint64
	// ContentHash is populated only when device/inode identity is
	// unavailable (platforms whose stat result is not a syscall.Stat_t).
	ContentHash string
}

// Key returns a comparable map key for the identity.
func (id Identity) Key() string {
	if id.ContentHash != "" {
		return "hash:" + id.ContentHash
	}
	return fmt.Sprintf("dev:%d/ino:%d", id.Device, id.Inode)
}

// Resolver computes Identity values for paths, lazily, on first upload
// consideration.
type Resolver struct {
	algo HashAlgo
}

// NewResolver constructs an identity Resolver using the given fallback hash
// algorithm (default sha256 when empty).
func NewResolver(algo HashAlgo) *Resolver {
	if algo == "" {
		algo = HashSHA256
	}
	return &Resolver{algo: algo}
}

// Identify computes the Identity of the file at path. It prefers
// device+inode (via syscall.Stat_t, available on POSIX-like systems) and
// falls back to a content hash otherwise.
func (r *Resolver) Identify(path string) (Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		return Identity{Device: uint64(sys.Dev), Inode: sys.Ino}, nil //nolint:unconvert // Dev is int64 on darwin, uint64 on linux
	}
	h, err := r.hashFile(path)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ContentHash: h}, nil
}

func (r *Resolver) hashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path already passed the security gate
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer f.Close()

	var hasher hash.Hash
	switch r.algo {
	case HashSHA1:
		hasher = sha1.New() //nolint:gosec
	case HashMD5:
		hasher = md5.New() //nolint:gosec
	default:
		hasher = sha256.New()
	}
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

package archive

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/archivext/internal/models"
)

// Hash algorithms. MD5 matches the digest published in the remote meta file.
const (
	HashMD5    = "md5"
	HashSHA256 = "sha256"
	HashXXHash = "xxhash"
)

const hashBlockSize = 64 * 1024

// NewHash returns a fresh digest for algo. An empty name selects MD5.
func NewHash(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "", HashMD5:
		return md5.New(), nil
	case HashSHA256:
		return sha256.New(), nil
	case HashXXHash:
		return xxhash.New(), nil
	}
	return nil, models.NewValidationError("hash algorithm", "unknown algorithm %q", algo)
}

// HashFiles streams the raw bytes of paths, in order, through algo and returns the hex digest.
func HashFiles(paths []string, algo string) (string, error) {
	h, err := NewHash(algo)
	if err != nil {
		return "", err
	}
	buf := make([]byte, hashBlockSize)
	for _, p := range paths {
		if err := hashFile(h, p, buf); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(h hash.Hash, path string, buf []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return &IOError{Op: "read", Path: path, Err: err}
	}
	return nil
}
